package chat

import (
	"strings"
	"unicode/utf8"

	"classchat/api/internal/rbac"
	"classchat/api/internal/store"
)

const MaxContentLength = 5000

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

var (
	messageTypes    = map[string]bool{MessageTypeText: true, MessageTypeImage: true, MessageTypeFile: true}
	attachmentTypes = map[string]bool{"image": true, "pdf": true, "document": true}
)

// SendInput is a send request before validation.
type SendInput struct {
	ConversationID string
	Sender         store.Participant
	Receiver       store.Participant
	Content        string
	MessageType    string
	Attachments    []store.Attachment
}

// Validate checks the shape of a send request and normalizes it in place:
// content is trimmed and an empty message type becomes text. It does not
// touch storage.
func (in *SendInput) Validate() error {
	fields := map[string]string{}

	if strings.TrimSpace(in.ConversationID) == "" {
		fields["conversationId"] = "conversationId is required"
	}
	if strings.TrimSpace(in.Receiver.UserID) == "" {
		fields["receiverId"] = "receiverId is required"
	}
	if kind, ok := rbac.ParseKind(string(in.Receiver.Kind)); !ok {
		fields["receiverType"] = "receiverType must be one of Educator, Admin, Student"
	} else {
		in.Receiver.Kind = kind
	}

	in.Content = strings.TrimSpace(in.Content)
	switch {
	case in.Content == "":
		fields["content"] = "content is required"
	case utf8.RuneCountInString(in.Content) > MaxContentLength:
		fields["content"] = "content cannot exceed 5000 characters"
	}

	in.MessageType = strings.ToLower(strings.TrimSpace(in.MessageType))
	if in.MessageType == "" {
		in.MessageType = MessageTypeText
	}
	if !messageTypes[in.MessageType] {
		fields["messageType"] = "messageType must be one of text, image, file"
	}

	for i := range in.Attachments {
		a := &in.Attachments[i]
		a.URL = strings.TrimSpace(a.URL)
		if a.URL == "" {
			fields["attachments"] = "each attachment needs a url"
			break
		}
		if a.Type != "" && !attachmentTypes[a.Type] {
			fields["attachments"] = "attachment type must be one of image, pdf, document"
			break
		}
		if a.Size < 0 {
			fields["attachments"] = "attachment size cannot be negative"
			break
		}
	}

	if len(fields) > 0 {
		return validationError("validation failed", fields)
	}
	return nil
}

func validParticipant(p store.Participant) (store.Participant, bool) {
	kind, ok := rbac.ParseKind(string(p.Kind))
	if !ok || strings.TrimSpace(p.UserID) == "" {
		return p, false
	}
	return store.Participant{UserID: strings.TrimSpace(p.UserID), Kind: kind}, true
}
