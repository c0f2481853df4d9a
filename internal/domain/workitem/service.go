package workitem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service wraps a Store with domain validation and the guarded decision
// transition. It holds no state of its own; everything routes through the
// store so concurrent pipeline runs and API callers share one contract.
type Service struct {
	store Store
}

// NewService creates a Service on top of the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying store for collaborators that need the raw
// CRUD contract (the processing pipeline, the stale sweeper).
func (s *Service) Store() Store { return s.store }

// Create validates and inserts a new request. A missing identifier gets a
// generated one; a missing status starts the item in Draft.
func (s *Service) Create(ctx context.Context, item WorkItem) (WorkItem, error) {
	if strings.TrimSpace(item.PatientID) == "" {
		return WorkItem{}, fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(item.EncounterID) == "" {
		return WorkItem{}, fmt.Errorf("encounter_id is required")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = StatusDraft
	}
	if !item.Status.Valid() {
		return WorkItem{}, fmt.Errorf("%w: %q", ErrInvalidStatus, item.Status)
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Confidence = ClampConfidence(item.Confidence)
	if _, err := s.store.Create(ctx, item); err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// Get returns the item or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (WorkItem, error) {
	return s.store.GetByID(ctx, id)
}

// Query lists items filtered by encounter and/or status.
func (s *Service) Query(ctx context.Context, filter QueryFilter) ([]WorkItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	return s.store.Query(ctx, filter)
}

// UpdateStatus transitions the item to status under the store's CAS
// discipline.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (WorkItem, error) {
	return s.store.UpdateStatus(ctx, id, status)
}

// Replace swaps all mutable fields of the item atomically, leaving the
// identifier, creation timestamp, and accumulated review time intact.
func (s *Service) Replace(ctx context.Context, id string, next WorkItem) (WorkItem, error) {
	if !next.Status.Valid() {
		return WorkItem{}, fmt.Errorf("%w: %q", ErrInvalidStatus, next.Status)
	}
	return s.store.Update(ctx, id, func(current WorkItem) (WorkItem, error) {
		if current.Status.Terminal() && next.Status != current.Status {
			return WorkItem{}, fmt.Errorf("%w: %s is terminal", ErrTerminalStatus, current.Status)
		}
		out := next
		out.ID = current.ID
		out.CreatedAt = current.CreatedAt
		out.ReviewTimeSeconds = current.ReviewTimeSeconds
		out.UpdatedAt = freshTimestamp(current.UpdatedAt)
		return out, nil
	})
}

// Submit moves a Ready item into WaitingForInsurance.
func (s *Service) Submit(ctx context.Context, id string) (WorkItem, error) {
	return s.store.Update(ctx, id, func(current WorkItem) (WorkItem, error) {
		if current.Status != StatusReady {
			return WorkItem{}, fmt.Errorf("%w: status is %s, want %s",
				ErrNotEligible, current.Status, StatusReady)
		}
		return current.Transition(StatusWaitingForInsurance, freshTimestamp(current.UpdatedAt))
	})
}

// Decide records the payer's decision. The transition is guarded: it only
// succeeds when the item is currently in exactly WaitingForInsurance;
// from any other status it reports ErrNotEligible and leaves the item
// untouched.
func (s *Service) Decide(ctx context.Context, id string, approved bool, denialReason string) (WorkItem, error) {
	return s.store.Update(ctx, id, func(current WorkItem) (WorkItem, error) {
		if current.Status != StatusWaitingForInsurance {
			return WorkItem{}, fmt.Errorf("%w: status is %s, want %s",
				ErrNotEligible, current.Status, StatusWaitingForInsurance)
		}
		target := StatusApproved
		if !approved {
			target = StatusDenied
		}
		next, err := current.Transition(target, freshTimestamp(current.UpdatedAt))
		if err != nil {
			return WorkItem{}, err
		}
		if !approved && denialReason != "" {
			next.DenialReason = &denialReason
		}
		return next, nil
	})
}

// AddReviewTime accumulates reviewer wall-clock seconds on the item.
func (s *Service) AddReviewTime(ctx context.Context, id string, seconds int64) (WorkItem, error) {
	if seconds < 0 {
		return WorkItem{}, fmt.Errorf("review seconds must be non-negative")
	}
	return s.store.Update(ctx, id, func(current WorkItem) (WorkItem, error) {
		out := current.clone()
		out.ReviewTimeSeconds += seconds
		out.UpdatedAt = freshTimestamp(current.UpdatedAt)
		return out, nil
	})
}

// Delete removes the item entirely.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
