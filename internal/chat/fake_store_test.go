package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"classchat/api/internal/store"
)

type fakeStore struct {
	mu            sync.Mutex
	clock         time.Time
	conversations map[string]store.Conversation
	byPair        map[string]string
	messages      map[string]store.Message
	order         []string
	profiles      map[string]store.Profile

	touchErr    error
	createCalls int
	// missFinds makes the next n finds miss, as if another process had not
	// committed yet.
	missFinds int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		conversations: map[string]store.Conversation{},
		byPair:        map[string]string{},
		messages:      map[string]store.Message{},
		profiles:      map[string]store.Profile{},
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) FindConversationByParticipants(_ context.Context, a, b store.Participant) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missFinds > 0 {
		f.missFinds--
		return store.Conversation{}, store.ErrNotFound
	}
	id, ok := f.byPair[store.PairKey(a, b)]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return f.conversations[id], nil
}

func (f *fakeStore) CreateConversation(_ context.Context, item store.Conversation) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	key := store.PairKey(item.Participants[0], item.Participants[1])
	if _, exists := f.byPair[key]; exists {
		return store.Conversation{}, store.ErrDuplicateConversation
	}
	now := f.tick()
	item.IsActive = true
	item.CreatedAt = now
	item.UpdatedAt = now
	f.conversations[item.ID] = item
	f.byPair[key] = item.ID
	return item, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) ListConversationsForUser(_ context.Context, p store.Participant) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Conversation
	for _, conv := range f.conversations {
		if conv.Participants[0] == p || conv.Participants[1] == p {
			items = append(items, conv)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].LastMessageAt, items[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return items, nil
}

func (f *fakeStore) TouchLastMessage(_ context.Context, conversationID, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	conv := f.conversations[conversationID]
	conv.LastMessageID = &messageID
	conv.LastMessageAt = &at
	f.conversations[conversationID] = conv
	return nil
}

func (f *fakeStore) SetConversationActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.IsActive = active
	f.conversations[id] = conv
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, item store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = f.tick()
	if item.Attachments == nil {
		item.Attachments = []store.Attachment{}
	}
	f.messages[item.ID] = item
	f.order = append(f.order, item.ID)
	return item, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID string, page, pageSize int) (store.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, pageSize = store.NormalizePage(page, pageSize)

	var newestFirst []store.Message
	for i := len(f.order) - 1; i >= 0; i-- {
		if msg := f.messages[f.order[i]]; msg.ConversationID == conversationID {
			newestFirst = append(newestFirst, msg)
		}
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(newestFirst) {
		start = len(newestFirst)
	}
	if end > len(newestFirst) {
		end = len(newestFirst)
	}
	items := append([]store.Message{}, newestFirst[start:end]...)
	store.ReverseMessages(items)
	return store.MessagePage{Messages: items, Pagination: store.NewPagination(page, pageSize, len(newestFirst))}, nil
}

func (f *fakeStore) MarkMessageRead(_ context.Context, id string, at time.Time) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	if !item.IsRead {
		item.IsRead = true
		item.ReadAt = &at
		f.messages[id] = item
	}
	return item, nil
}

func (f *fakeStore) MarkConversationRead(_ context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, item := range f.messages {
		if item.ConversationID == conversationID && item.Receiver.UserID == readerID && !item.IsRead {
			item.IsRead = true
			item.ReadAt = &at
			f.messages[id] = item
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UnreadCount(_ context.Context, p store.Participant) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.messages {
		if item.Receiver == p && !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ConversationUnreadCount(_ context.Context, conversationID, receiverID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.messages {
		if item.ConversationID == conversationID && item.Receiver.UserID == receiverID && !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LookupProfile(_ context.Context, p store.Participant) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[p.UserID]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return profile, nil
}

// recordingHandle captures pushed events.
type recordingHandle struct {
	id     string
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

type recordedEvent struct {
	name string
	data any
}

func (h *recordingHandle) ID() string { return h.id }

func (h *recordingHandle) Push(event string, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, recordedEvent{name: event, data: data})
	return nil
}

func (h *recordingHandle) named(name string) []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []recordedEvent
	for _, ev := range h.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}
