package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/priorauth/priorauth/internal/domain/workitem"
)

// Handler exposes the encounter-complete trigger over HTTP. Each trigger
// starts one asynchronous pipeline run.
type Handler struct {
	processor *Processor
	svc       *workitem.Service
	baseCtx   context.Context
	logger    zerolog.Logger
}

// NewHandler creates a Handler. baseCtx bounds the lifetime of the
// asynchronous runs; cancelling it (at shutdown) abandons in-flight runs.
func NewHandler(processor *Processor, svc *workitem.Service, baseCtx context.Context, logger zerolog.Logger) *Handler {
	return &Handler{processor: processor, svc: svc, baseCtx: baseCtx, logger: logger}
}

// RegisterRoutes binds the trigger route to the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/encounters/:id/complete", h.CompleteEncounter)
}

type completeRequest struct {
	PatientID  string `json:"patient_id"`
	WorkItemID string `json:"work_item_id,omitempty"`
}

type completeResponse struct {
	WorkItemID  string `json:"work_item_id"`
	EncounterID string `json:"encounter_id"`
}

// CompleteEncounter handles POST /encounters/:id/complete. When no work item
// id is supplied a fresh draft item is created for the encounter before the
// run starts. The run itself executes in the background; the response only
// acknowledges the trigger.
func (h *Handler) CompleteEncounter(c echo.Context) error {
	encounterID := c.Param("id")

	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	workItemID := req.WorkItemID
	if workItemID == "" {
		created, err := h.svc.Create(c.Request().Context(), workitem.WorkItem{
			PatientID:   req.PatientID,
			EncounterID: encounterID,
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		workItemID = created.ID
	} else {
		if _, err := h.svc.Get(c.Request().Context(), workItemID); err != nil {
			if errors.Is(err, workitem.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "work item not found")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	go func() {
		if err := h.processor.Process(h.baseCtx, encounterID, req.PatientID, workItemID); err != nil {
			h.logger.Debug().Err(err).Str("encounter_id", encounterID).Msg("pipeline run ended with error")
		}
	}()

	return c.JSON(http.StatusAccepted, completeResponse{
		WorkItemID:  workItemID,
		EncounterID: encounterID,
	})
}
