package search

import (
	"context"

	"go.uber.org/zap"

	"classchat/api/internal/store"
)

type indexBackend interface {
	Searcher
	IndexMessages([]MessageRecord) error
}

// Service tries Meilisearch first and falls back to Postgres FTS.
type Service struct {
	meili indexBackend
	pgfts Searcher
	log   *zap.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *zap.Logger) *Service {
	s := &Service{log: log}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage pushes a persisted message to Meilisearch without waiting.
func (s *Service) IndexMessage(msg store.Message) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromMessage(msg)
	go func() {
		if err := s.meili.IndexMessages([]MessageRecord{record}); err != nil {
			s.log.Warn("index message failed", zap.String("message_id", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG copies every stored message into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context, source *PgFTS) {
	if s.meili == nil || !s.meili.Healthy() || source == nil {
		return
	}
	records, err := source.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexMessages(records); err != nil {
		s.log.Warn("reindex messages failed", zap.Error(err))
		return
	}
	s.log.Info("reindexed messages", zap.Int("count", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
