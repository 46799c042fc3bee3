package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using the generated tsvector on messages.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := p.db.Query(`
		SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id,
			ts_headline('simple', m.content, plainto_tsquery('simple', $1), 'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet,
			m.created_at,
			COUNT(*) OVER () AS total
		FROM messages m
		WHERE m.fts @@ plainto_tsquery('simple', $1)
			AND ((m.sender_id = $2 AND m.sender_type = $3) OR (m.receiver_id = $2 AND m.receiver_type = $3))
		ORDER BY ts_rank(m.fts, plainto_tsquery('simple', $1)) DESC, m.created_at DESC
		LIMIT $4 OFFSET $5
	`, q.Text, q.Participant.UserID, string(q.Participant.Kind), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.ConversationID, &r.SenderID, &r.ReceiverID, &r.Snippet, &r.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every message for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_type, receiver_id, receiver_type, content, created_at
		FROM messages ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var (
			rec                      MessageRecord
			senderType, receiverType string
			createdAt                sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.SenderID, &senderType, &rec.ReceiverID, &receiverType, &rec.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message record: %w", err)
		}
		rec.Participants = []string{senderType + ":" + rec.SenderID, receiverType + ":" + rec.ReceiverID}
		if createdAt.Valid {
			rec.CreatedAt = createdAt.Time.Unix()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages rows: %w", err)
	}
	return records, nil
}
