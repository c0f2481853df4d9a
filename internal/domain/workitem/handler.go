package workitem

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the prior-authorization request store over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes binds the request routes to the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/pa-requests", h.CreateRequest)
	g.GET("/pa-requests", h.ListRequests)
	g.GET("/pa-requests/:id", h.GetRequest)
	g.PUT("/pa-requests/:id", h.ReplaceRequest)
	g.PATCH("/pa-requests/:id/status", h.UpdateStatus)
	g.POST("/pa-requests/:id/submit", h.SubmitRequest)
	g.POST("/pa-requests/:id/decision", h.DecideRequest)
	g.POST("/pa-requests/:id/review-time", h.AddReviewTime)
	g.DELETE("/pa-requests/:id", h.DeleteRequest)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "request already exists")
	case errors.Is(err, ErrNotEligible), errors.Is(err, ErrTerminalStatus):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrRetriesExhausted):
		return echo.NewHTTPError(http.StatusConflict, "concurrent update contention, retry")
	case errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// CreateRequest handles POST /pa-requests.
func (h *Handler) CreateRequest(c echo.Context) error {
	var item WorkItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Create(c.Request().Context(), item)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidStatus) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

// ListRequests handles GET /pa-requests with optional encounter_id and
// status filters.
func (h *Handler) ListRequests(c echo.Context) error {
	filter := QueryFilter{
		EncounterID: c.QueryParam("encounter_id"),
		Status:      Status(c.QueryParam("status")),
	}
	items, err := h.svc.Query(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []WorkItem{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

// GetRequest handles GET /pa-requests/:id.
func (h *Handler) GetRequest(c echo.Context) error {
	item, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// ReplaceRequest handles PUT /pa-requests/:id.
func (h *Handler) ReplaceRequest(c echo.Context) error {
	var item WorkItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Replace(c.Request().Context(), c.Param("id"), item)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type statusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus handles PATCH /pa-requests/:id/status.
func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// SubmitRequest handles POST /pa-requests/:id/submit.
func (h *Handler) SubmitRequest(c echo.Context) error {
	updated, err := h.svc.Submit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type decisionRequest struct {
	Approved     bool   `json:"approved"`
	DenialReason string `json:"denial_reason,omitempty"`
}

// DecideRequest handles POST /pa-requests/:id/decision. The underlying
// transition is guarded: items not currently waiting for insurance are
// reported as a conflict, never moved.
func (h *Handler) DecideRequest(c echo.Context) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Decide(c.Request().Context(), c.Param("id"), req.Approved, req.DenialReason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type reviewTimeRequest struct {
	Seconds int64 `json:"seconds"`
}

// AddReviewTime handles POST /pa-requests/:id/review-time, accumulating
// reviewer time onto the item.
func (h *Handler) AddReviewTime(c echo.Context) error {
	var req reviewTimeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Seconds < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "seconds must be non-negative")
	}
	updated, err := h.svc.AddReviewTime(c.Request().Context(), c.Param("id"), req.Seconds)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteRequest handles DELETE /pa-requests/:id.
func (h *Handler) DeleteRequest(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
