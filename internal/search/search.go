package search

import (
	"time"

	"classchat/api/internal/store"
)

// Result is a single message hit returned to the caller.
type Result struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Snippet        string    `json:"snippet"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Query describes a search request. Only messages the participant sent or
// received are eligible.
type Query struct {
	Text        string
	Participant store.Participant
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	ReceiverID     string   `json:"receiverId"`
	Participants   []string `json:"participants"`
	Content        string   `json:"content"`
	CreatedAt      int64    `json:"createdAt"`
}

// participantTag is the filter value stored per side of a message.
func participantTag(p store.Participant) string {
	return string(p.Kind) + ":" + p.UserID
}

func RecordFromMessage(msg store.Message) MessageRecord {
	return MessageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.Sender.UserID,
		ReceiverID:     msg.Receiver.UserID,
		Participants:   []string{participantTag(msg.Sender), participantTag(msg.Receiver)},
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt.Unix(),
	}
}
