package eventhub

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler streams hub events to HTTP clients as server-sent events.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler over the given hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes binds the event stream route to the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/events/stream", h.StreamEvents)
}

// StreamEvents handles GET /events/stream. Each published event becomes one
// SSE frame; the stream ends when the client disconnects.
func (h *Handler) StreamEvents(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	sub := h.hub.Subscribe()
	defer sub.Close()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, open := <-sub.C:
			if !open {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
