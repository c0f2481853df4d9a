package pipeline

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/priorauth/priorauth/internal/domain/workitem"
	"github.com/priorauth/priorauth/internal/platform/eventhub"
)

// DefaultStaleAfter is how long an item may sit in Processing before the
// sweeper reports it as stalled.
const DefaultStaleAfter = 30 * time.Minute

// Sweeper periodically reports work items stuck in Processing. A stalled run
// (crashed process, abandoned goroutine) would otherwise never produce its
// terminal event.
type Sweeper struct {
	store      workitem.Store
	hub        *eventhub.Hub
	staleAfter time.Duration
	cron       *cron.Cron
	logger     zerolog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(store workitem.Store, hub *eventhub.Hub, staleAfter time.Duration, logger zerolog.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Sweeper{
		store:      store,
		hub:        hub,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start schedules the sweep on the given cron expression and begins running.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("stale-item sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one pass. It returns the number of stalled items reported.
func (s *Sweeper) Sweep(ctx context.Context) int {
	items, err := s.store.Query(ctx, workitem.QueryFilter{Status: workitem.StatusProcessing})
	if err != nil {
		s.logger.Error().Err(err).Msg("stale sweep query failed")
		return 0
	}

	cutoff := time.Now().Add(-s.staleAfter)
	stalled := 0
	for _, item := range items {
		if item.UpdatedAt.After(cutoff) {
			continue
		}
		stalled++
		s.logger.Warn().
			Str("work_item_id", item.ID).
			Str("encounter_id", item.EncounterID).
			Time("updated_at", item.UpdatedAt).
			Msg("work item stalled in Processing")
		s.hub.Publish(eventhub.Event{
			Type:        eventhub.TypeProcessingError,
			EncounterID: item.EncounterID,
			PatientID:   item.PatientID,
			Message:     "processing stalled, manual attention required",
			Payload:     map[string]interface{}{"work_item_id": item.ID},
		})
	}
	return stalled
}
