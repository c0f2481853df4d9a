package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/priorauth/priorauth/internal/domain/workitem"
	"github.com/priorauth/priorauth/internal/platform/eventhub"
)

func TestSweepReportsStalledItems(t *testing.T) {
	store := workitem.NewMemoryStore()
	hub := eventhub.New(zerolog.Nop())
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	seed := []workitem.WorkItem{
		{ID: "wi-stale", PatientID: "pat-1", EncounterID: "enc-1", Status: workitem.StatusProcessing, CreatedAt: old, UpdatedAt: old},
		{ID: "wi-fresh", PatientID: "pat-2", EncounterID: "enc-2", Status: workitem.StatusProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{ID: "wi-ready", PatientID: "pat-3", EncounterID: "enc-3", Status: workitem.StatusReady, CreatedAt: old, UpdatedAt: old},
	}
	for _, item := range seed {
		if _, err := store.Create(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", item.ID, err)
		}
	}

	sub := hub.Subscribe()
	defer sub.Close()

	sweeper := NewSweeper(store, hub, 30*time.Minute, zerolog.Nop())
	if got := sweeper.Sweep(ctx); got != 1 {
		t.Fatalf("Sweep reported %d stalled items, want 1", got)
	}

	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	if events[0].Type != eventhub.TypeProcessingError || events[0].EncounterID != "enc-1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].Payload["work_item_id"] != "wi-stale" {
		t.Fatalf("payload = %+v", events[0].Payload)
	}
}

func TestSweepEmptyStore(t *testing.T) {
	sweeper := NewSweeper(workitem.NewMemoryStore(), eventhub.New(zerolog.Nop()), 0, zerolog.Nop())
	if sweeper.staleAfter != DefaultStaleAfter {
		t.Fatalf("staleAfter = %v, want default", sweeper.staleAfter)
	}
	if got := sweeper.Sweep(context.Background()); got != 0 {
		t.Fatalf("Sweep on empty store reported %d", got)
	}
}
