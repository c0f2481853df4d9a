// Package pipeline drives one prior-authorization request from a completed
// encounter to a reviewable state: aggregate the clinical record, analyze it,
// apply the resulting status, render the form artifact, cache the outcome and
// publish milestone events.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/priorauth/priorauth/internal/domain/clinical"
	"github.com/priorauth/priorauth/internal/domain/workitem"
	"github.com/priorauth/priorauth/internal/platform/analysis"
	"github.com/priorauth/priorauth/internal/platform/docgen"
	"github.com/priorauth/priorauth/internal/platform/eventhub"
	"github.com/priorauth/priorauth/internal/platform/resultcache"
)

// BundleSource aggregates the clinical record for one patient/encounter.
type BundleSource interface {
	AggregateForEncounter(ctx context.Context, patientID, encounterID string) (*clinical.Bundle, error)
}

// Processor owns one pipeline configuration. Runs share no mutable state;
// any number of Process calls may execute concurrently.
type Processor struct {
	source      BundleSource
	analyzer    analysis.Analyzer
	store       workitem.Store
	hub         *eventhub.Hub
	renderer    docgen.Renderer
	cache       resultcache.Cache
	defaultCode string
	logger      zerolog.Logger
}

// NewProcessor wires a Processor from its collaborators.
func NewProcessor(
	source BundleSource,
	analyzer analysis.Analyzer,
	store workitem.Store,
	hub *eventhub.Hub,
	renderer docgen.Renderer,
	cache resultcache.Cache,
	defaultProcedureCode string,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		source:      source,
		analyzer:    analyzer,
		store:       store,
		hub:         hub,
		renderer:    renderer,
		cache:       cache,
		defaultCode: defaultProcedureCode,
		logger:      logger,
	}
}

// newTransactionID correlates all events of one run.
func newTransactionID(encounterID string) string {
	return fmt.Sprintf("pa-%s-%d", encounterID, time.Now().UnixNano())
}

// fail publishes a sanitized processing-error event and logs the cause. The
// event carries only identifiers and a fixed stage message; the underlying
// error goes to the log.
func (p *Processor) fail(txID, encounterID, patientID, message string, cause error) error {
	p.logger.Error().
		Err(cause).
		Str("transaction_id", txID).
		Str("encounter_id", encounterID).
		Msg(message)
	p.hub.Publish(eventhub.Event{
		Type:          eventhub.TypeProcessingError,
		TransactionID: txID,
		EncounterID:   encounterID,
		PatientID:     patientID,
		Message:       message,
	})
	return fmt.Errorf("%s: %w", message, cause)
}

// Process executes one pipeline run. Every run ends with either a ready
// event or a single processing-error event; committed steps before a failure
// stay committed.
func (p *Processor) Process(ctx context.Context, encounterID, patientID, workItemID string) error {
	txID := newTransactionID(encounterID)
	logger := p.logger.With().
		Str("transaction_id", txID).
		Str("encounter_id", encounterID).
		Str("patient_id", patientID).
		Logger()
	logger.Info().Str("work_item_id", workItemID).Msg("pipeline run started")

	bundle, err := p.source.AggregateForEncounter(ctx, patientID, encounterID)
	if err != nil {
		return p.fail(txID, encounterID, patientID, "clinical record aggregation failed", err)
	}
	for _, failure := range bundle.Failures {
		logger.Warn().Str("category", failure.Category).Str("reason", failure.Reason).
			Msg("clinical category degraded to empty")
	}

	// The record is in hand; mark the item in flight so stalled runs are
	// visible to the sweeper. Nothing is written before aggregation succeeds.
	if _, err := p.store.UpdateStatus(ctx, workItemID, workitem.StatusProcessing); err != nil {
		return p.fail(txID, encounterID, patientID, "work item update failed", err)
	}

	procedureCode := p.defaultCode
	var serviceRequestID *string
	if sr := bundle.ActiveServiceRequest(); sr != nil {
		if sr.Code != "" {
			procedureCode = sr.Code
		}
		id := sr.ID
		serviceRequestID = &id
	} else {
		logger.Info().Str("default_code", procedureCode).Msg("no active service request, using default procedure code")
	}

	result, err := p.analyzer.Analyze(ctx, bundle, procedureCode)
	if err != nil {
		return p.fail(txID, encounterID, patientID, "clinical analysis failed", err)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(txID, encounterID, patientID, "pipeline run cancelled", err)
	}

	decision := TargetStatus(result.Recommendation, result.ConfidenceScore)
	criteria := toWorkItemCriteria(result.Criteria)
	if decision.ManualReview {
		reason := "confidence below review threshold"
		criteria = append(criteria, workitem.Criterion{
			Label:  "manual review",
			Met:    nil,
			Reason: &reason,
		})
	}

	item, err := p.store.Update(ctx, workItemID, func(current workitem.WorkItem) (workitem.WorkItem, error) {
		next, err := current.Transition(decision.Status, time.Now())
		if err != nil {
			return workitem.WorkItem{}, err
		}
		next.Confidence = workitem.ClampConfidence(result.ConfidenceScore)
		next.Criteria = criteria
		next.ProcedureCode = &procedureCode
		next.ServiceRequestID = serviceRequestID
		return next, nil
	})
	if err != nil {
		return p.fail(txID, encounterID, patientID, "work item update failed", err)
	}

	statusPayload := map[string]interface{}{
		"status":         string(item.Status),
		"procedure_code": procedureCode,
	}
	if serviceRequestID != nil {
		statusPayload["service_request_id"] = *serviceRequestID
	}
	if decision.ManualReview {
		statusPayload["manual_review"] = true
	}
	p.hub.Publish(eventhub.Event{
		Type:          eventhub.TypeStatusChanged,
		TransactionID: txID,
		EncounterID:   encounterID,
		PatientID:     patientID,
		Message:       fmt.Sprintf("status changed to %s", item.Status),
		Payload:       statusPayload,
	})

	document, err := p.renderer.Render(ctx, docgen.Form{
		PatientID:     patientID,
		EncounterID:   encounterID,
		ProcedureCode: procedureCode,
		Result:        result,
	})
	if err != nil {
		return p.fail(txID, encounterID, patientID, "document generation failed", err)
	}

	entry := resultcache.Entry{
		EncounterID:   encounterID,
		TransactionID: txID,
		Status:        string(item.Status),
		Confidence:    item.Confidence,
		Summary:       result.ClinicalSummary,
		Document:      document,
		FieldMappings: result.FieldMappings,
	}
	if err := p.cache.Put(ctx, entry); err != nil {
		return p.fail(txID, encounterID, patientID, "result caching failed", err)
	}

	p.hub.Publish(eventhub.Event{
		Type:          eventhub.TypeReady,
		TransactionID: txID,
		EncounterID:   encounterID,
		PatientID:     patientID,
		Message: fmt.Sprintf("recommendation %s (confidence %d): %s",
			result.Recommendation, result.ConfidenceScore, result.ClinicalSummary),
		Payload: map[string]interface{}{
			"status":     string(item.Status),
			"confidence": item.Confidence,
		},
	})
	logger.Info().Str("status", string(item.Status)).Int("confidence", item.Confidence).
		Msg("pipeline run completed")
	return nil
}

func toWorkItemCriteria(in []analysis.Criterion) []workitem.Criterion {
	out := make([]workitem.Criterion, 0, len(in))
	for _, c := range in {
		out = append(out, workitem.Criterion{Label: c.Label, Met: c.Met, Reason: c.Reason})
	}
	return out
}
