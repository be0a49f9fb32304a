// Package fastmemory implements the runtime vector store of golden records:
// positive-feedback reinforcements with their embeddings and metadata.
//
// The store is an in-process index under a single-writer/many-reader lock,
// backed by an append-only journal plus snapshot for durability. Reads take a
// consistent view; an insert never retroactively affects a query already in
// flight.
package fastmemory

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/sphota-ai/sphota/internal/embedding"
	"github.com/sphota-ai/sphota/internal/model"
)

// Hit is one query result: a golden record and its cosine similarity to the
// query embedding.
type Hit struct {
	Record     model.GoldenRecord
	Similarity float64
}

// Store holds golden records keyed by record id.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.GoldenRecord
	cap     int // 0 = unbounded
	journal *Journal
	logger  *slog.Logger
}

// NewStore creates an empty store. cap > 0 bounds the record count; when the
// bound is exceeded the oldest records (by created_at, then record id) are
// evicted. journal may be nil for a purely in-memory store.
func NewStore(logger *slog.Logger, cap int, journal *Journal) *Store {
	return &Store{
		records: make(map[string]model.GoldenRecord),
		cap:     cap,
		journal: journal,
		logger:  logger,
	}
}

// Insert adds a record, journals it, and applies the eviction bound.
// Idempotent on record id: re-inserting an existing id is a no-op and is not
// re-journaled. The freshly inserted record is never the eviction victim.
func (s *Store) Insert(rec model.GoldenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.RecordID]; exists {
		return nil
	}

	if s.journal != nil {
		if err := s.journal.Append(rec); err != nil {
			return err
		}
	}
	s.records[rec.RecordID] = rec
	s.evictLocked(rec.RecordID)
	return nil
}

// evictLocked removes oldest records until the cap holds, sparing keepID.
// Caller holds the write lock.
func (s *Store) evictLocked(keepID string) {
	if s.cap <= 0 {
		return
	}
	for len(s.records) > s.cap {
		victim := ""
		for id, rec := range s.records {
			if id == keepID {
				continue
			}
			if victim == "" {
				victim = id
				continue
			}
			v := s.records[victim]
			if rec.CreatedAt.Before(v.CreatedAt) ||
				(rec.CreatedAt.Equal(v.CreatedAt) && id < victim) {
				victim = id
			}
		}
		if victim == "" {
			return
		}
		delete(s.records, victim)
		s.logger.Debug("fastmemory: evicted record", "record_id", victim)
	}
}

// Query returns up to k records ranked by cosine similarity to the query
// embedding, similarity descending, ties broken by record id ascending. The
// result is a snapshot: concurrent inserts do not affect it.
func (s *Store) Query(emb []float32, k int) []Hit {
	s.mu.RLock()
	hits := make([]Hit, 0, len(s.records))
	for _, rec := range s.records {
		hits = append(hits, Hit{
			Record:     rec,
			Similarity: embedding.Cosine(emb, rec.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Record.RecordID < hits[j].Record.RecordID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Count returns the number of records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns all records sorted by record id, for persistence.
func (s *Store) Snapshot() []model.GoldenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []model.GoldenRecord {
	recs := make([]model.GoldenRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].RecordID < recs[j].RecordID })
	return recs
}

// Restore replaces the store contents with the given records, without
// journaling. Used during startup replay.
func (s *Store) Restore(recs []model.GoldenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]model.GoldenRecord, len(recs))
	for _, rec := range recs {
		s.records[rec.RecordID] = rec
	}
	s.evictLocked("")
}

// Checkpoint writes a snapshot of the current contents and truncates the
// journal. Safe to call at shutdown or periodically. The write lock is held
// across the truncation so an insert cannot slip between the snapshot and the
// journal reset and lose its journal entry.
func (s *Store) Checkpoint() error {
	if s.journal == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal.Checkpoint(s.snapshotLocked())
}
