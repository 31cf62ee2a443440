package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	records []Record
	seen    map[string]struct{}
}

// NewMemoryStore builds an in-memory audit log for tests and development mode.
func NewMemoryStore() Store {
	return &memoryStore{seen: make(map[string]struct{})}
}

func (s *memoryStore) Append(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = rec.RecordedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[rec.RequestID]; dup {
		return nil
	}
	s.seen[rec.RequestID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *memoryStore) History(_ context.Context, phone string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0)
	for _, rec := range s.records {
		if rec.Sender.Phone == phone || rec.Receiver.Phone == phone {
			entries = append(entries, entryFor(phone, rec))
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TransactionTime.After(entries[j].TransactionTime)
	})
	return entries, nil
}
