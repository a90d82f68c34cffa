package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Domenick1991/venuebooking/internal/domain"
)

// MemoryStore keeps JSON-encoded documents in process memory. Every read
// decodes a fresh copy, so callers never share state through it. It backs
// the `memory` storage driver and the service tests.
type MemoryStore[T any, P interface {
	*T
	Document
}] struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore[T any, P interface {
	*T
	Document
}]() *MemoryStore[T, P] {
	return &MemoryStore[T, P]{docs: make(map[string][]byte)}
}

func (s *MemoryStore[T, P]) Get(ctx context.Context, id string) (*T, error) {
	s.mu.RLock()
	data, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MemoryStore[T, P]) Upsert(ctx context.Context, doc *T) error {
	id := P(doc).GetID()
	if id == "" {
		return fmt.Errorf("upsert: empty document id")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[id] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore[T, P]) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	return true, nil
}

func (s *MemoryStore[T, P]) Find(ctx context.Context, field, value string) ([]*T, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make([][]byte, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, s.docs[id])
	}
	s.mu.RUnlock()

	var out []*T
	for _, data := range snapshot {
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		v, ok := fields[field]
		if !ok || fmt.Sprint(v) != value {
			continue
		}
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, nil
}

var _ BookingRepository = (*MemoryStore[domain.Booking, *domain.Booking])(nil)
