package clinical

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stubSource is a configurable RecordSource test double.
type stubSource struct {
	demographics    *Demographics
	demographicsErr error

	conditions    []Condition
	conditionsErr error

	observations    []Observation
	observationsErr error
	observationsSince time.Time

	procedures    []Procedure
	proceduresErr error

	documents    []DocumentRef
	documentsErr error

	serviceRequests    []ServiceRequest
	serviceRequestsErr error
	gotEncounterID     string
}

func (s *stubSource) FetchDemographics(_ context.Context, _ string) (*Demographics, error) {
	return s.demographics, s.demographicsErr
}

func (s *stubSource) SearchConditions(_ context.Context, _ string) ([]Condition, error) {
	return s.conditions, s.conditionsErr
}

func (s *stubSource) SearchObservations(_ context.Context, _ string, since time.Time) ([]Observation, error) {
	s.observationsSince = since
	return s.observations, s.observationsErr
}

func (s *stubSource) SearchProcedures(_ context.Context, _ string, _ time.Time) ([]Procedure, error) {
	return s.procedures, s.proceduresErr
}

func (s *stubSource) SearchDocuments(_ context.Context, _ string) ([]DocumentRef, error) {
	return s.documents, s.documentsErr
}

func (s *stubSource) SearchServiceRequests(_ context.Context, _ string, encounterID string) ([]ServiceRequest, error) {
	s.gotEncounterID = encounterID
	return s.serviceRequests, s.serviceRequestsErr
}

func healthySource() *stubSource {
	return &stubSource{
		demographics: &Demographics{PatientID: "pat-1", FamilyName: "Rivera"},
		conditions: []Condition{
			{ID: "c1", Code: "M54.5", Display: "Low back pain"},
			{ID: "c2", Code: "M51.26", Display: "Lumbar disc degeneration"},
		},
		observations: []Observation{{ID: "o1", Code: "72514-3", Value: "7", Unit: "score"}},
		procedures:   []Procedure{{ID: "pr1", Code: "97110", Status: "completed"}},
		documents:    []DocumentRef{{ID: "d1", Title: "PT progress note"}},
		serviceRequests: []ServiceRequest{
			{ID: "sr1", Code: "72148", Status: "active"},
		},
	}
}

func TestAggregate_AllCategories(t *testing.T) {
	source := healthySource()
	agg := NewAggregator(source, zerolog.Nop())

	bundle, err := agg.Aggregate(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Demographics == nil || bundle.Demographics.FamilyName != "Rivera" {
		t.Error("demographics missing from bundle")
	}
	if len(bundle.Conditions) != 2 || len(bundle.Observations) != 1 ||
		len(bundle.Procedures) != 1 || len(bundle.Documents) != 1 ||
		len(bundle.ServiceRequests) != 1 {
		t.Errorf("unexpected bundle contents: %+v", bundle)
	}
	if bundle.Degraded() {
		t.Errorf("unexpected failures: %+v", bundle.Failures)
	}
}

func TestAggregate_DemographicsFailureFailsAll(t *testing.T) {
	source := healthySource()
	source.demographics = nil
	source.demographicsErr = errors.New("upstream 503")
	agg := NewAggregator(source, zerolog.Nop())

	bundle, err := agg.Aggregate(context.Background(), "pat-1")
	if err == nil {
		t.Fatal("expected error when demographics fetch fails")
	}
	if !strings.Contains(err.Error(), CategoryDemographics) {
		t.Errorf("error %q does not name the failed category", err)
	}
	if bundle != nil {
		t.Errorf("expected no partial bundle, got %+v", bundle)
	}
}

func TestAggregate_BestEffortCategoryDegrades(t *testing.T) {
	tests := []struct {
		name     string
		arrange  func(*stubSource)
		category string
		empty    func(*Bundle) bool
	}{
		{
			"conditions",
			func(s *stubSource) { s.conditionsErr = errors.New("timeout") },
			CategoryConditions,
			func(b *Bundle) bool { return len(b.Conditions) == 0 },
		},
		{
			"observations",
			func(s *stubSource) { s.observationsErr = errors.New("timeout") },
			CategoryObservations,
			func(b *Bundle) bool { return len(b.Observations) == 0 },
		},
		{
			"procedures",
			func(s *stubSource) { s.proceduresErr = errors.New("timeout") },
			CategoryProcedures,
			func(b *Bundle) bool { return len(b.Procedures) == 0 },
		},
		{
			"documents",
			func(s *stubSource) { s.documentsErr = errors.New("timeout") },
			CategoryDocuments,
			func(b *Bundle) bool { return len(b.Documents) == 0 },
		},
		{
			"service requests",
			func(s *stubSource) { s.serviceRequestsErr = errors.New("timeout") },
			CategoryServiceRequests,
			func(b *Bundle) bool { return len(b.ServiceRequests) == 0 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := healthySource()
			tt.arrange(source)
			agg := NewAggregator(source, zerolog.Nop())

			bundle, err := agg.Aggregate(context.Background(), "pat-1")
			if err != nil {
				t.Fatalf("best-effort failure must not fail aggregation: %v", err)
			}
			if !tt.empty(bundle) {
				t.Error("failed category should resolve to an empty collection")
			}
			if len(bundle.Failures) != 1 || bundle.Failures[0].Category != tt.category {
				t.Errorf("expected one recorded failure for %s, got %+v", tt.category, bundle.Failures)
			}
			if bundle.Demographics == nil {
				t.Error("other categories should still be populated")
			}
		})
	}
}

func TestAggregate_ObservationLookbackWindow(t *testing.T) {
	source := healthySource()
	agg := NewAggregator(source, zerolog.Nop(), WithObservationLookback(30*24*time.Hour))

	if _, err := agg.Aggregate(context.Background(), "pat-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Now().Add(-30 * 24 * time.Hour)
	if diff := source.observationsSince.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("observation window start %v not near %v", source.observationsSince, want)
	}
}

func TestAggregateForEncounter_NarrowsServiceRequests(t *testing.T) {
	source := healthySource()
	agg := NewAggregator(source, zerolog.Nop())

	if _, err := agg.AggregateForEncounter(context.Background(), "pat-1", "enc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.gotEncounterID != "enc-1" {
		t.Errorf("expected encounter filter enc-1, got %q", source.gotEncounterID)
	}
}

func TestBundle_ActiveServiceRequest(t *testing.T) {
	bundle := &Bundle{ServiceRequests: []ServiceRequest{
		{ID: "sr1", Code: "70551", Status: "completed"},
		{ID: "sr2", Code: "72148", Status: "active"},
		{ID: "sr3", Code: "72149", Status: "active"},
	}}
	got := bundle.ActiveServiceRequest()
	if got == nil || got.ID != "sr2" {
		t.Errorf("expected first active request sr2, got %+v", got)
	}

	empty := &Bundle{}
	if empty.ActiveServiceRequest() != nil {
		t.Error("expected nil for bundle without active requests")
	}
}
