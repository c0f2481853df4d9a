// Package resultcache stores the outcome of a completed processing run so it
// can be looked up later by encounter and transaction. Writes are idempotent:
// replaying a run for the same key overwrites the previous entry.
package resultcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEntryNotFound is returned when no entry exists for a key.
var ErrEntryNotFound = errors.New("result entry not found")

// Key builds the canonical cache key for an encounter/transaction pair.
func Key(encounterID, transactionID string) string {
	return encounterID + ":" + transactionID
}

// Entry is the durable record of one processing run.
type Entry struct {
	EncounterID   string            `json:"encounter_id"`
	TransactionID string            `json:"transaction_id"`
	Status        string            `json:"status"`
	Confidence    int               `json:"confidence"`
	Summary       string            `json:"summary,omitempty"`
	Document      []byte            `json:"document,omitempty"`
	FieldMappings map[string]string `json:"field_mappings,omitempty"`
	StoredAt      time.Time         `json:"stored_at"`
}

// Cache persists processing results keyed by Key(encounterID, transactionID).
type Cache interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, encounterID, transactionID string) (Entry, error)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryCache is a thread-safe in-memory Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Put(_ context.Context, entry Entry) error {
	if entry.EncounterID == "" || entry.TransactionID == "" {
		return fmt.Errorf("result entry requires encounter and transaction ids")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(entry.EncounterID, entry.TransactionID)] = entry
	return nil
}

func (c *MemoryCache) Get(_ context.Context, encounterID, transactionID string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[Key(encounterID, transactionID)]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

// Len reports the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
