package benchmark

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("benchmark run not found")

// Store persists benchmark runs. Save is an upsert keyed on Run.ID.
type Store interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// List returns runs newest first, skipping offset runs. limit <= 0
	// means no limit.
	List(ctx context.Context, limit, offset int) ([]*Run, error)
}

// MemoryStore keeps runs in process memory. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	max  int
}

// NewMemoryStore creates a store that keeps at most max runs, evicting the
// oldest. max <= 0 means unbounded.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run), max: max}
}

func (m *MemoryStore) Save(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()

	if m.max > 0 && len(m.runs) > m.max {
		var oldest *Run
		for _, r := range m.runs {
			if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
				oldest = r
			}
		}
		delete(m.runs, oldest.ID)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*Run, error) {
	m.mu.RLock()
	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*Run{}, nil
	}
	if offset > 0 {
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
