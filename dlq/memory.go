package dlq

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"podqueued/task"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Add(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.TaskID]; ok {
		return fmt.Errorf("dead letter add %s: %w", e.TaskID, task.ErrDuplicateTask)
	}
	c := *e
	s.entries[e.TaskID] = &c
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, taskID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		return nil, fmt.Errorf("dead letter remove %s: %w", taskID, task.ErrNotFound)
	}
	delete(s.entries, taskID)
	return e, nil
}

func (s *MemoryStore) Has(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
