package rbac

import (
	"sort"
	"strings"
)

// Kind is the participant class a user belongs to on the platform.
type Kind string
type Action string

const (
	KindEducator Kind = "Educator"
	KindAdmin    Kind = "Admin"
	KindStudent  Kind = "Student"
)

const (
	ActionSend    Action = "send"
	ActionReceive Action = "receive"
)

func Can(kind Kind, action Action) bool {
	switch kind {
	case KindEducator, KindAdmin:
		return action == ActionSend || action == ActionReceive
	case KindStudent:
		return action == ActionReceive
	default:
		return false
	}
}

// ParseKind accepts any casing of a known kind.
func ParseKind(value string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "educator":
		return KindEducator, true
	case "admin":
		return KindAdmin, true
	case "student":
		return KindStudent, true
	default:
		return "", false
	}
}

// ConversationType derives the informational tag for a pair, e.g.
// "admin-educator". The result does not depend on argument order.
func ConversationType(a, b Kind) string {
	kinds := []string{strings.ToLower(string(a)), strings.ToLower(string(b))}
	sort.Strings(kinds)
	return kinds[0] + "-" + kinds[1]
}

// DefaultCounterpart is the kind a caller talks to when none is named.
func DefaultCounterpart(kind Kind) Kind {
	if kind == KindEducator {
		return KindAdmin
	}
	return KindEducator
}
