package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"classchat/api/internal/rbac"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const conversationColumns = `
	id, participant_a_id, participant_a_type, participant_b_id, participant_b_type,
	conversation_type, last_message_id, last_message_at, is_active, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		item          Conversation
		aType, bType  string
		lastMessageID sql.NullString
		lastMessageAt sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.Participants[0].UserID,
		&aType,
		&item.Participants[1].UserID,
		&bType,
		&item.ConversationType,
		&lastMessageID,
		&lastMessageAt,
		&item.IsActive,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}
	item.Participants[0].Kind = rbac.Kind(aType)
	item.Participants[1].Kind = rbac.Kind(bType)
	if lastMessageID.Valid {
		item.LastMessageID = &lastMessageID.String
	}
	if lastMessageAt.Valid {
		at := lastMessageAt.Time
		item.LastMessageAt = &at
	}
	return item, nil
}

// FindConversationByParticipants matches the unordered pair through the
// canonical pair key, so either participant may be passed first.
func (s *PostgresStore) FindConversationByParticipants(ctx context.Context, a, b Participant) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key=$1`, PairKey(a, b))
	item, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, item Conversation) (Conversation, error) {
	a, b := item.Participants[0], item.Participants[1]
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, participant_a_id, participant_a_type, participant_b_id, participant_b_type, pair_key, conversation_type, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING `+conversationColumns,
		item.ID, a.UserID, string(a.Kind), b.UserID, string(b.Kind), PairKey(a, b), item.ConversationType,
	)
	created, err := scanConversation(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Conversation{}, ErrDuplicateConversation
		}
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	item, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListConversationsForUser(ctx context.Context, participant Participant) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE (participant_a_id=$1 AND participant_a_type=$2)
			OR (participant_b_id=$1 AND participant_b_type=$2)
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`, participant.UserID, string(participant.Kind))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		item, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

// TouchLastMessage is a plain overwrite, so replays are harmless and the
// last writer wins when sends race.
func (s *PostgresStore) TouchLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id=$2, last_message_at=$3, updated_at=NOW()
		WHERE id=$1
	`, conversationID, messageID, at)
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetConversationActive(ctx context.Context, conversationID string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE conversations SET is_active=$2, updated_at=NOW() WHERE id=$1`, conversationID, active)
	if err != nil {
		return fmt.Errorf("set conversation active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set conversation active: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = `
	id, conversation_id, sender_id, sender_type, receiver_id, receiver_type,
	content, message_type, attachments, is_read, read_at, created_at, edited_at
`

func scanMessage(row rowScanner) (Message, error) {
	var (
		item                     Message
		senderType, receiverType string
		attachments              []byte
		readAt, editedAt         sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.ConversationID,
		&item.Sender.UserID,
		&senderType,
		&item.Receiver.UserID,
		&receiverType,
		&item.Content,
		&item.MessageType,
		&attachments,
		&item.IsRead,
		&readAt,
		&item.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return Message{}, err
	}
	item.Sender.Kind = rbac.Kind(senderType)
	item.Receiver.Kind = rbac.Kind(receiverType)
	item.Attachments = []Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &item.Attachments); err != nil {
			return Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if readAt.Valid {
		at := readAt.Time
		item.ReadAt = &at
	}
	if editedAt.Valid {
		at := editedAt.Time
		item.EditedAt = &at
	}
	return item, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) (Message, error) {
	attachments := item.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return Message{}, fmt.Errorf("encode attachments: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_type, receiver_id, receiver_type, content, message_type, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		RETURNING `+messageColumns,
		item.ID,
		item.ConversationID,
		item.Sender.UserID,
		string(item.Sender.Kind),
		item.Receiver.UserID,
		string(item.Receiver.Kind),
		item.Content,
		item.MessageType,
		string(encoded),
	)
	created, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	item, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return item, nil
}

// ListMessages cuts pages from the newest message backwards and returns
// each page oldest first for chat-window rendering.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, page, pageSize int) (MessagePage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID).Scan(&total); err != nil {
		return MessagePage{}, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3
	`, conversationID, pageSize, (page-1)*pageSize)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, pageSize)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return MessagePage{}, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, fmt.Errorf("iterate messages: %w", err)
	}
	ReverseMessages(items)

	return MessagePage{Messages: items, Pagination: NewPagination(page, pageSize, total)}, nil
}

// MarkMessageRead sets read state once; a message that is already read is
// returned unchanged so read_at never moves.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID string, at time.Time) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET is_read=TRUE, read_at=$2
		WHERE id=$1 AND is_read=FALSE
		RETURNING `+messageColumns,
		messageID, at,
	)
	item, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetMessage(ctx, messageID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("mark message read: %w", err)
	}
	return item, nil
}

// MarkConversationRead flips every unread row addressed to the reader.
// Each row update is independent and idempotent.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerUserID string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read=TRUE, read_at=$3
		WHERE conversation_id=$1 AND receiver_id=$2 AND is_read=FALSE
	`, conversationID, readerUserID, at)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, receiver Participant) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id=$1 AND receiver_type=$2 AND is_read=FALSE
	`, receiver.UserID, string(receiver.Kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ConversationUnreadCount(ctx context.Context, conversationID, receiverUserID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id=$1 AND receiver_id=$2 AND is_read=FALSE
	`, conversationID, receiverUserID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conversation unread count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) LookupProfile(ctx context.Context, participant Participant) (Profile, error) {
	profile := Profile{UserID: participant.UserID, Kind: participant.Kind}
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name, contact, avatar_url FROM user_profiles
		WHERE user_id=$1 AND user_type=$2
	`, participant.UserID, string(participant.Kind)).Scan(&profile.DisplayName, &profile.Contact, &profile.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("lookup profile: %w", err)
	}
	return profile, nil
}
