package store

import (
	"errors"
	"sort"
	"time"

	"classchat/api/internal/rbac"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateConversation = errors.New("conversation already exists for participants")
)

// Participant identifies one side of a conversation. The kind selects which
// platform directory the user id belongs to.
type Participant struct {
	UserID string    `json:"userId"`
	Kind   rbac.Kind `json:"userType"`
}

func (p Participant) key() string {
	return string(p.Kind) + ":" + p.UserID
}

// PairKey is the canonical, order-independent key for two participants.
func PairKey(a, b Participant) string {
	keys := []string{a.key(), b.key()}
	sort.Strings(keys)
	return keys[0] + "|" + keys[1]
}

type Conversation struct {
	ID               string
	Participants     [2]Participant
	ConversationType string
	LastMessageID    *string
	LastMessageAt    *time.Time
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Includes reports whether userID is one of the two participants.
func (c Conversation) Includes(userID string) bool {
	return c.Participants[0].UserID == userID || c.Participants[1].UserID == userID
}

// Counterpart returns the participant that is not userID.
func (c Conversation) Counterpart(userID string) Participant {
	if c.Participants[0].UserID == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Matches reports whether a and b are exactly this conversation's pair.
func (c Conversation) Matches(a, b Participant) bool {
	return PairKey(c.Participants[0], c.Participants[1]) == PairKey(a, b)
}

type Attachment struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID             string
	ConversationID string
	Sender         Participant
	Receiver       Participant
	Content        string
	MessageType    string
	Attachments    []Attachment
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
	EditedAt       *time.Time
}

// Profile is the public display record of a platform user.
type Profile struct {
	UserID      string
	Kind        rbac.Kind
	DisplayName string
	Contact     string
	AvatarURL   string
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// MessagePage is one page of a conversation. Pages are cut from newest to
// oldest, and messages inside a page are ordered oldest first.
type MessagePage struct {
	Messages   []Message
	Pagination Pagination
}

const DefaultPageSize = 50

// NormalizePage clamps 1-indexed paging input.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

func NewPagination(page, pageSize, total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// ReverseMessages flips a newest-first slice in place.
func ReverseMessages(items []Message) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
