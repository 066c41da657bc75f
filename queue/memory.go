package queue

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps mutations in process memory. Nothing survives a restart;
// use it for tests and clients that persist elsewhere.
type MemoryStore struct {
	mu  sync.Mutex
	seq uint64
	m   map[string]Mutation
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]Mutation)}
}

func (s *MemoryStore) Append(_ context.Context, m Mutation) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.Seq = s.seq
	s.m[m.ID] = m
	return m, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[id]
	if !ok {
		return Mutation{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) List(context.Context) ([]Mutation, error) {
	s.mu.Lock()
	out := make([]Mutation, 0, len(s.m))
	for _, m := range s.m {
		out = append(out, m)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[m.ID]; !ok {
		return ErrNotFound
	}
	s.m[m.ID] = m
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
