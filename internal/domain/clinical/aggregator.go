package clinical

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RecordSource is the record-access collaborator the aggregator consumes.
// Implementations return errors for not-found and network conditions; they
// never panic.
type RecordSource interface {
	FetchDemographics(ctx context.Context, patientID string) (*Demographics, error)
	SearchConditions(ctx context.Context, patientID string) ([]Condition, error)
	SearchObservations(ctx context.Context, patientID string, since time.Time) ([]Observation, error)
	SearchProcedures(ctx context.Context, patientID string, since time.Time) ([]Procedure, error)
	SearchDocuments(ctx context.Context, patientID string) ([]DocumentRef, error)
	SearchServiceRequests(ctx context.Context, patientID, encounterID string) ([]ServiceRequest, error)
}

// Default lookback windows bounding the time-windowed searches.
const (
	DefaultObservationLookback = 6 * 30 * 24 * time.Hour  // ~6 months
	DefaultProcedureLookback   = 12 * 30 * 24 * time.Hour // ~1 year
)

// Aggregator performs the six-way concurrent fetch of a patient's clinical
// record. Demographics is required; the five other categories are
// best-effort and degrade to empty collections on failure.
type Aggregator struct {
	source              RecordSource
	observationLookback time.Duration
	procedureLookback   time.Duration
	logger              zerolog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithObservationLookback bounds the observation search window.
func WithObservationLookback(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.observationLookback = d
		}
	}
}

// WithProcedureLookback bounds the procedure search window.
func WithProcedureLookback(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.procedureLookback = d
		}
	}
}

// NewAggregator creates an Aggregator over the given record source.
func NewAggregator(source RecordSource, logger zerolog.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		source:              source,
		observationLookback: DefaultObservationLookback,
		procedureLookback:   DefaultProcedureLookback,
		logger:              logger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Aggregate fetches all six resource categories for the patient.
func (a *Aggregator) Aggregate(ctx context.Context, patientID string) (*Bundle, error) {
	return a.AggregateForEncounter(ctx, patientID, "")
}

// AggregateForEncounter is Aggregate with the service-request search
// narrowed to one encounter. All six requests run concurrently and the
// call returns when the slowest has settled; a best-effort failure never
// short-circuits the others. A demographics failure fails the whole
// aggregation and no partial bundle is returned.
func (a *Aggregator) AggregateForEncounter(ctx context.Context, patientID, encounterID string) (*Bundle, error) {
	now := time.Now()
	bundle := &Bundle{
		PatientID:       patientID,
		Conditions:      []Condition{},
		Observations:    []Observation{},
		Procedures:      []Procedure{},
		Documents:       []DocumentRef{},
		ServiceRequests: []ServiceRequest{},
	}

	var (
		wg              sync.WaitGroup
		mu              sync.Mutex
		demographicsErr error
	)

	// recordFailure degrades one best-effort category.
	recordFailure := func(category string, err error) {
		mu.Lock()
		bundle.Failures = append(bundle.Failures, CategoryFailure{
			Category: category,
			Reason:   err.Error(),
		})
		mu.Unlock()
		a.logger.Warn().
			Str("patient_id", patientID).
			Str("category", category).
			Err(err).
			Msg("best-effort fetch failed, category degraded to empty")
	}

	wg.Add(6)

	go func() {
		defer wg.Done()
		demographics, err := a.source.FetchDemographics(ctx, patientID)
		if err != nil {
			demographicsErr = err
			return
		}
		bundle.Demographics = demographics
	}()

	go func() {
		defer wg.Done()
		conditions, err := a.source.SearchConditions(ctx, patientID)
		if err != nil {
			recordFailure(CategoryConditions, err)
			return
		}
		bundle.Conditions = conditions
	}()

	go func() {
		defer wg.Done()
		observations, err := a.source.SearchObservations(ctx, patientID, now.Add(-a.observationLookback))
		if err != nil {
			recordFailure(CategoryObservations, err)
			return
		}
		bundle.Observations = observations
	}()

	go func() {
		defer wg.Done()
		procedures, err := a.source.SearchProcedures(ctx, patientID, now.Add(-a.procedureLookback))
		if err != nil {
			recordFailure(CategoryProcedures, err)
			return
		}
		bundle.Procedures = procedures
	}()

	go func() {
		defer wg.Done()
		documents, err := a.source.SearchDocuments(ctx, patientID)
		if err != nil {
			recordFailure(CategoryDocuments, err)
			return
		}
		bundle.Documents = documents
	}()

	go func() {
		defer wg.Done()
		requests, err := a.source.SearchServiceRequests(ctx, patientID, encounterID)
		if err != nil {
			recordFailure(CategoryServiceRequests, err)
			return
		}
		bundle.ServiceRequests = requests
	}()

	wg.Wait()

	if demographicsErr != nil {
		return nil, fmt.Errorf("fetch %s for %s: %w", CategoryDemographics, patientID, demographicsErr)
	}
	return bundle, nil
}
