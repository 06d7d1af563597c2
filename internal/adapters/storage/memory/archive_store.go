package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/PabloGalante/equalizer/internal/domain"
)

// ArchiveStore is a simple in-memory implementation of domain.ArchiveStore.
// It is NOT persistent and is only suitable for development / local mode.
type ArchiveStore struct {
	mu      sync.RWMutex
	records map[domain.SessionID]*domain.ArchiveRecord
	order   []domain.SessionID
	max     int
}

// NewArchiveStore keeps at most maxRecords records, dropping the oldest. maxRecords <= 0 keeps all.
func NewArchiveStore(maxRecords int) *ArchiveStore {
	return &ArchiveStore{
		records: make(map[domain.SessionID]*domain.ArchiveRecord),
		max:     maxRecords,
	}
}

// SaveRecord stores rec, replacing an earlier record for the same session.
func (s *ArchiveStore) SaveRecord(_ context.Context, rec *domain.ArchiveRecord) error {
	if rec == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.SessionID]; exists {
		s.order = slices.DeleteFunc(s.order, func(id domain.SessionID) bool { return id == rec.SessionID })
	}
	s.records[rec.SessionID] = rec
	s.order = append(s.order, rec.SessionID)

	if s.max > 0 && len(s.order) > s.max {
		for _, id := range s.order[:len(s.order)-s.max] {
			delete(s.records, id)
		}
		s.order = slices.Clone(s.order[len(s.order)-s.max:])
	}
	return nil
}

func (s *ArchiveStore) GetRecord(_ context.Context, id domain.SessionID) (*domain.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, domain.NewSessionError("get archive record", id, domain.ErrSessionNotFound)
	}
	return rec, nil
}

// ListRecords returns the last `limit` records of kind, newest first.
// An empty kind matches every record; limit <= 0 returns all.
func (s *ArchiveStore) ListRecords(_ context.Context, kind domain.SessionKind, limit int) ([]*domain.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.ArchiveRecord{}
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
