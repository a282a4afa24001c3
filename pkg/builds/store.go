// Package builds holds the build request and result records exchanged with
// the execution engine, and the stores that track them.
package builds

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a build ID is unknown.
var ErrNotFound = errors.New("build not found")

// MemStore keeps build records in memory.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*Build
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*Build)}
}

func (s *MemStore) Create(build Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := build
	rec.Properties = copyProps(build.Properties)
	s.items[build.ID] = &rec
	return nil
}

func (s *MemStore) SetStatus(id string, status Status, finishedAt *time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	if finishedAt != nil {
		rec.FinishedAt = *finishedAt
	}
	rec.Error = errMsg
	return nil
}

func (s *MemStore) Get(id string) (Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return Build{}, ErrNotFound
	}
	out := *rec
	out.Properties = copyProps(rec.Properties)
	return out, nil
}

// List returns builds newest first. A non-positive limit returns all.
func (s *MemStore) List(limit int) ([]Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Build, 0, len(s.items))
	for _, rec := range s.items {
		out := *rec
		out.Properties = copyProps(rec.Properties)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyProps(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
