package workitem

import (
	"context"
	"sync"
	"time"
)

// versionedEntry pairs a stored value with a monotonically increasing
// version counter, the unit of compare-and-swap.
type versionedEntry struct {
	item    WorkItem
	version uint64
}

// MemoryStore is a thread-safe, in-process Store backed by a map of
// versioned entries. Suitable for development and tests; the contract
// matches the PostgreSQL backing exactly.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]versionedEntry
	maxRetries int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxRetries overrides the bounded CAS retry budget.
func WithMaxRetries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items:      make(map[string]versionedEntry),
		maxRetries: DefaultMaxRetries,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Create(_ context.Context, item WorkItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return "", ErrConflict
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	item.Confidence = ClampConfidence(item.Confidence)
	s.items[item.ID] = versionedEntry{item: item.clone(), version: 1}
	return item.ID, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[id]
	if !ok {
		return WorkItem{}, ErrNotFound
	}
	return entry.item.clone(), nil
}

// read returns a snapshot of the entry and its version.
func (s *MemoryStore) read(id string) (WorkItem, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[id]
	if !ok {
		return WorkItem{}, 0, false
	}
	return entry.item.clone(), entry.version, true
}

// compareAndSwap writes next only if the entry's version still equals
// expected. Returns false when a concurrent writer won the race.
func (s *MemoryStore) compareAndSwap(id string, expected uint64, next WorkItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[id]
	if !ok || entry.version != expected {
		return false
	}
	s.items[id] = versionedEntry{item: next.clone(), version: expected + 1}
	return true
}

func (s *MemoryStore) Update(ctx context.Context, id string, mutate Mutator) (WorkItem, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return WorkItem{}, err
		}
		current, version, ok := s.read(id)
		if !ok {
			return WorkItem{}, ErrNotFound
		}
		next, err := mutate(current)
		if err != nil {
			return WorkItem{}, err
		}
		next.ID = current.ID // identifier is immutable after creation
		next.Confidence = ClampConfidence(next.Confidence)
		if s.compareAndSwap(id, version, next) {
			return next, nil
		}
	}
	return WorkItem{}, ErrRetriesExhausted
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) (WorkItem, error) {
	return s.Update(ctx, id, func(current WorkItem) (WorkItem, error) {
		return current.Transition(status, freshTimestamp(current.UpdatedAt))
	})
}

func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WorkItem
	for _, entry := range s.items {
		if filter.EncounterID != "" && entry.item.EncounterID != filter.EncounterID {
			continue
		}
		if filter.Status != "" && entry.item.Status != filter.Status {
			continue
		}
		out = append(out, entry.item.clone())
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// freshTimestamp returns now, nudged forward when the wall clock has not
// advanced past the previous update. Successful writes therefore always
// carry a strictly newer UpdatedAt.
func freshTimestamp(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
