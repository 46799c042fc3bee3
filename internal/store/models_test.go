package store

import (
	"testing"

	"classchat/api/internal/rbac"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	edu := Participant{UserID: "edu-1", Kind: rbac.KindEducator}
	adm := Participant{UserID: "adm-1", Kind: rbac.KindAdmin}
	if PairKey(edu, adm) != PairKey(adm, edu) {
		t.Fatalf("PairKey differs by order: %q vs %q", PairKey(edu, adm), PairKey(adm, edu))
	}
	other := Participant{UserID: "edu-1", Kind: rbac.KindAdmin}
	if PairKey(edu, adm) == PairKey(other, adm) {
		t.Fatal("expected kind to be part of the pair key")
	}
}

func TestConversationCounterpart(t *testing.T) {
	conv := Conversation{Participants: [2]Participant{
		{UserID: "edu-1", Kind: rbac.KindEducator},
		{UserID: "adm-1", Kind: rbac.KindAdmin},
	}}
	if got := conv.Counterpart("edu-1"); got.UserID != "adm-1" {
		t.Fatalf("Counterpart(edu-1) = %+v", got)
	}
	if got := conv.Counterpart("adm-1"); got.UserID != "edu-1" {
		t.Fatalf("Counterpart(adm-1) = %+v", got)
	}
	if conv.Includes("stu-1") {
		t.Fatal("expected stu-1 to be outside the conversation")
	}
}

func TestNewPagination(t *testing.T) {
	cases := []struct {
		name               string
		page, size, total  int
		wantPages          int
		wantNext, wantPrev bool
	}{
		{name: "empty", page: 1, size: 50, total: 0, wantPages: 0},
		{name: "single page", page: 1, size: 50, total: 12, wantPages: 1},
		{name: "first of three", page: 1, size: 5, total: 11, wantPages: 3, wantNext: true},
		{name: "last of three", page: 3, size: 5, total: 11, wantPages: 3, wantPrev: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewPagination(tc.page, tc.size, tc.total)
			if got.TotalPages != tc.wantPages || got.HasNext != tc.wantNext || got.HasPrev != tc.wantPrev {
				t.Fatalf("NewPagination(%d, %d, %d) = %+v", tc.page, tc.size, tc.total, got)
			}
		})
	}
}

func TestNormalizePageDefaults(t *testing.T) {
	page, size := NormalizePage(0, 0)
	if page != 1 || size != DefaultPageSize {
		t.Fatalf("NormalizePage(0, 0) = %d, %d", page, size)
	}
}
