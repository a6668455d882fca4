package registry

import (
	"context"
	"sync"
	"time"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ConversionProcess
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.ConversionProcess)}
}

func (s *MemoryStore) Save(_ context.Context, p *models.ConversionProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.ID] = cloneProcess(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ConversionProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[id]
	if !ok {
		return nil, apperr.Wrap(apperr.ErrNotFound, "process %s", id)
	}
	return cloneProcess(p), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Expired(_ context.Context, now time.Time) ([]*models.ConversionProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConversionProcess
	for _, p := range s.records {
		if p.Expired(now) {
			out = append(out, cloneProcess(p))
		}
	}
	return out, nil
}
