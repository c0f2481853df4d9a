package workitem

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations and the Service.
var (
	ErrNotFound         = errors.New("work item not found")
	ErrConflict         = errors.New("work item already exists")
	ErrRetriesExhausted = errors.New("update retries exhausted")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrTerminalStatus   = errors.New("status is terminal")
	ErrNotEligible      = errors.New("work item not eligible for decision")
)

// DefaultMaxRetries bounds the compare-and-swap retry loop on writes.
const DefaultMaxRetries = 10

// QueryFilter narrows a Query call. Zero-valued fields are ignored.
type QueryFilter struct {
	EncounterID string
	Status      Status
}

// Mutator derives the next value of a work item from the current one.
// Returning an error aborts the update without writing; that is how guarded
// transitions report ineligibility instead of corrupting state.
type Mutator func(current WorkItem) (WorkItem, error)

// Store is the workflow state store. All writes follow the optimistic
// concurrency discipline: read the current value, compute the new value, and
// write back only if nothing else changed the record since the read,
// retrying up to a fixed bound before reporting ErrRetriesExhausted. The
// contract is identical for the in-memory backing and the PostgreSQL
// backing; the latter maps the compare-and-swap onto a version column
// checked in the UPDATE's WHERE clause.
type Store interface {
	// Create inserts a new item, failing with ErrConflict if the
	// identifier is already present.
	Create(ctx context.Context, item WorkItem) (string, error)

	// GetByID returns a copy of the item or ErrNotFound.
	GetByID(ctx context.Context, id string) (WorkItem, error)

	// Update applies mutate to the current value under compare-and-swap
	// and returns the stored result. An error from mutate aborts the
	// write and is returned verbatim.
	Update(ctx context.Context, id string, mutate Mutator) (WorkItem, error)

	// UpdateStatus transitions the item to status, stamping a fresh
	// UpdatedAt. Terminal-status and unknown-status violations surface as
	// ErrTerminalStatus / ErrInvalidStatus.
	UpdateStatus(ctx context.Context, id string, status Status) (WorkItem, error)

	// Query lists items matching the filter. Read-only.
	Query(ctx context.Context, filter QueryFilter) ([]WorkItem, error)

	// Delete removes the item entirely, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
