package search

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"formsync/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Index writes run in the background; Close waits for them.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

func newServiceWith(primary Searcher, indexer Indexer, fallback Searcher) *Service {
	return &Service{primary: primary, indexer: indexer, fallback: fallback}
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn("search index failed, falling back to postgres", "err", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Error("postgres search failed", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexForm pushes a form to the index in the background.
func (s *Service) IndexForm(detail store.FormDetail) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	record := RecordFromDetail(detail)
	s.background(func() {
		if err := s.indexer.IndexForms([]FormRecord{record}); err != nil {
			log.Warn("index form", "form", record.ID, "err", err)
		}
	})
}

// DeleteForm removes a form from the index in the background.
func (s *Service) DeleteForm(id string) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	s.background(func() {
		if err := s.indexer.DeleteForm(id); err != nil {
			log.Warn("delete form from index", "form", id, "err", err)
		}
	})
}

// ReindexAllFromPG pushes every stored form into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context, pgfts *PgFTS) {
	if s.indexer == nil || !s.indexer.Healthy() || pgfts == nil {
		return
	}
	records, err := pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Warn("reindex load failed", "err", err)
		return
	}
	if err := s.indexer.IndexForms(records); err != nil {
		log.Warn("reindex forms", "err", err)
		return
	}
	log.Info("search index rebuilt", "forms", len(records))
}

// Close waits for background index writes.
func (s *Service) Close() {
	s.pending.Wait()
}

func (s *Service) background(fn func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		fn()
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
