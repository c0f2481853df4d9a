package workitem

import (
	"context"
	"errors"
	"testing"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestService_CreateDefaults(t *testing.T) {
	svc := newTestService()

	item, err := svc.Create(context.Background(), WorkItem{PatientID: "pat-1", EncounterID: "enc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.ID == "" {
		t.Error("expected generated identifier")
	}
	if item.Status != StatusDraft {
		t.Errorf("expected Draft, got %s", item.Status)
	}
	if item.CreatedAt.IsZero() || item.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		name string
		item WorkItem
	}{
		{"missing patient", WorkItem{EncounterID: "enc-1"}},
		{"missing encounter", WorkItem{PatientID: "pat-1"}},
		{"bad status", WorkItem{PatientID: "pat-1", EncounterID: "enc-1", Status: "Nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.item); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestService_CreateClampsConfidence(t *testing.T) {
	svc := newTestService()

	item, err := svc.Create(context.Background(), WorkItem{
		PatientID: "pat-1", EncounterID: "enc-1", Confidence: 180,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Confidence != 100 {
		t.Errorf("expected confidence clamped to 100, got %d", item.Confidence)
	}
}

func TestService_DecideGuard(t *testing.T) {
	svc := newTestService()

	draft, err := svc.Create(context.Background(), WorkItem{PatientID: "pat-1", EncounterID: "enc-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// deciding a Draft item is ineligible and leaves the status untouched
	if _, err := svc.Decide(context.Background(), draft.ID, true, ""); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	got, _ := svc.Get(context.Background(), draft.ID)
	if got.Status != StatusDraft {
		t.Errorf("guard failure mutated status to %s", got.Status)
	}
}

func TestService_DecideApprove(t *testing.T) {
	svc := newTestService()

	item, _ := svc.Create(context.Background(), WorkItem{
		PatientID: "pat-1", EncounterID: "enc-1", Status: StatusWaitingForInsurance,
	})

	decided, err := svc.Decide(context.Background(), item.ID, true, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decided.Status != StatusApproved {
		t.Errorf("expected Approved, got %s", decided.Status)
	}
	if decided.DenialReason != nil {
		t.Error("approval should not carry a denial reason")
	}
}

func TestService_DecideDenyRecordsReason(t *testing.T) {
	svc := newTestService()

	item, _ := svc.Create(context.Background(), WorkItem{
		PatientID: "pat-1", EncounterID: "enc-1", Status: StatusWaitingForInsurance,
	})

	decided, err := svc.Decide(context.Background(), item.ID, false, "medical necessity not established")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decided.Status != StatusDenied {
		t.Errorf("expected Denied, got %s", decided.Status)
	}
	if decided.DenialReason == nil || *decided.DenialReason != "medical necessity not established" {
		t.Errorf("denial reason not recorded: %v", decided.DenialReason)
	}
}

func TestService_SubmitRequiresReady(t *testing.T) {
	svc := newTestService()

	item, _ := svc.Create(context.Background(), WorkItem{
		PatientID: "pat-1", EncounterID: "enc-1", Status: StatusReady,
	})

	submitted, err := svc.Submit(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if submitted.Status != StatusWaitingForInsurance {
		t.Errorf("expected WaitingForInsurance, got %s", submitted.Status)
	}
	if submitted.SubmittedAt == nil {
		t.Error("expected SubmittedAt stamped")
	}

	// a second submit is no longer eligible
	if _, err := svc.Submit(context.Background(), item.ID); !errors.Is(err, ErrNotEligible) {
		t.Errorf("expected ErrNotEligible, got %v", err)
	}
}

func TestService_ReplacePreservesImmutableFields(t *testing.T) {
	svc := newTestService()

	item, _ := svc.Create(context.Background(), WorkItem{
		PatientID: "pat-1", EncounterID: "enc-1",
	})
	if _, err := svc.AddReviewTime(context.Background(), item.ID, 90); err != nil {
		t.Fatalf("add review time: %v", err)
	}

	replaced, err := svc.Replace(context.Background(), item.ID, WorkItem{
		ID:          "other-id",
		PatientID:   "pat-1",
		EncounterID: "enc-1",
		Status:      StatusProcessing,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replaced.ID != item.ID {
		t.Errorf("identifier changed to %s", replaced.ID)
	}
	if !replaced.CreatedAt.Equal(item.CreatedAt) {
		t.Error("creation timestamp changed")
	}
	if replaced.ReviewTimeSeconds != 90 {
		t.Errorf("review time not preserved: %d", replaced.ReviewTimeSeconds)
	}
}

func TestService_ReplaceSwapsReferencesInStore(t *testing.T) {
	svc := newTestService()

	item, _ := svc.Create(context.Background(), WorkItem{
		PatientID: "pat-1", EncounterID: "enc-1",
	})

	replaced, err := svc.Replace(context.Background(), item.ID, WorkItem{
		PatientID:   "pat-2",
		EncounterID: "enc-2",
		Status:      StatusDraft,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replaced.PatientID != "pat-2" || replaced.EncounterID != "enc-2" {
		t.Errorf("returned item kept old references: %s/%s", replaced.PatientID, replaced.EncounterID)
	}

	stored, err := svc.Store().GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.PatientID != replaced.PatientID || stored.EncounterID != replaced.EncounterID {
		t.Errorf("stored row disagrees with returned item: %s/%s vs %s/%s",
			stored.PatientID, stored.EncounterID, replaced.PatientID, replaced.EncounterID)
	}
}

func TestService_AddReviewTimeAccumulates(t *testing.T) {
	svc := newTestService()

	item, _ := svc.Create(context.Background(), WorkItem{PatientID: "pat-1", EncounterID: "enc-1"})
	svc.AddReviewTime(context.Background(), item.ID, 30)
	got, err := svc.AddReviewTime(context.Background(), item.ID, 45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ReviewTimeSeconds != 75 {
		t.Errorf("expected 75 seconds, got %d", got.ReviewTimeSeconds)
	}
}
