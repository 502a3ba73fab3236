package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tgmirror/internal/domain"
)

// MemoryStore keeps everything in process. It backs dry runs and tests.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string][]domain.MessageRecord
	cursors     map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]domain.MessageRecord),
		cursors:     make(map[string]int64),
	}
}

func (s *MemoryStore) Backend() string                { return "memory" }
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

func (s *MemoryStore) ExistsByKey(ctx context.Context, collection, sourceMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOfKey(collection, sourceMessageID) >= 0, nil
}

func (s *MemoryStore) indexOfKey(collection, sourceMessageID string) int {
	for i, rec := range s.collections[collection] {
		if rec.Origin == domain.OriginSource && rec.SourceMessageID == sourceMessageID {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, rec domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Origin == domain.OriginSource && s.indexOfKey(collection, rec.SourceMessageID) >= 0 {
		return domain.ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	for _, existing := range s.collections[collection] {
		if existing.ID == rec.ID {
			return domain.ErrDuplicate
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.collections[collection] = append(s.collections[collection], rec)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, f domain.Filter, limit int) ([]domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.MessageRecord
	for _, rec := range s.collections[collection] {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string, f domain.Filter) (int64, error) {
	recs, _ := s.Query(ctx, collection, f, 0)
	return int64(len(recs)), nil
}

func (s *MemoryStore) UpdateFields(ctx context.Context, collection, id string, p domain.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.collections[collection]
	for i := range recs {
		if recs[i].ID != id {
			continue
		}
		if p.SynchronizedToSource != nil {
			recs[i].SynchronizedToSource = *p.SynchronizedToSource
		}
		if p.SourceDeliveredID != nil {
			recs[i].SourceDeliveredID = *p.SourceDeliveredID
		}
		if p.SyncedAt != nil {
			t := *p.SyncedAt
			recs[i].SyncedAt = &t
		}
		if p.RejectedAt != nil {
			t := *p.RejectedAt
			recs[i].RejectedAt = &t
		}
		if p.RejectReason != nil {
			recs[i].RejectReason = *p.RejectReason
		}
		if p.Deleted != nil {
			recs[i].Deleted = *p.Deleted
		}
		if p.DeletedAt != nil {
			t := *p.DeletedAt
			recs[i].DeletedAt = &t
		}
		if p.DeleteSynced != nil {
			recs[i].DeleteSynced = *p.DeleteSynced
		}
		return nil
	}
	return fmt.Errorf("update %s/%s: %w", collection, id, domain.ErrNotFound)
}

func (s *MemoryStore) LoadCursors(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveCursor(ctx context.Context, channelID string, lastMessageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastMessageID > s.cursors[channelID] {
		s.cursors[channelID] = lastMessageID
	}
	return nil
}

// All returns a copy of every record in collection, in insertion order.
func (s *MemoryStore) All(collection string) []domain.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MessageRecord(nil), s.collections[collection]...)
}

func matches(rec domain.MessageRecord, f domain.Filter) bool {
	if f.Origin != nil && rec.Origin != *f.Origin {
		return false
	}
	if f.SynchronizedToSource != nil && rec.SynchronizedToSource != *f.SynchronizedToSource {
		return false
	}
	if f.Deleted != nil && rec.Deleted != *f.Deleted {
		return false
	}
	if f.DeleteSynced != nil && rec.DeleteSynced != *f.DeleteSynced {
		return false
	}
	if f.Rejected != nil && (rec.RejectedAt != nil) != *f.Rejected {
		return false
	}
	if f.CreatedAtOrBefore != nil && rec.CreatedAt.After(*f.CreatedAtOrBefore) {
		return false
	}
	return true
}
