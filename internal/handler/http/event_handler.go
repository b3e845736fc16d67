package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/dashhost/internal/domain/event"
	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
	"github.com/lllypuk/dashhost/internal/middleware"
)

// EventPublisher delivers an event to the host's local bus.
// Declared on the consumer side per project guidelines.
type EventPublisher interface {
	Dispatch(ctx context.Context, evt event.Event) error
}

// PublishedEventResponse acknowledges an accepted event.
type PublishedEventResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventHandler lets a remote module without a Redis or WebSocket connection
// publish its events over plain HTTP.
type EventHandler struct {
	publisher  EventPublisher
	logger     *slog.Logger
	middleware []echo.MiddlewareFunc
}

// NewEventHandler creates a new EventHandler. Middleware in mw guards the
// publish route only.
func NewEventHandler(publisher EventPublisher, logger *slog.Logger, mw ...echo.MiddlewareFunc) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{
		publisher:  publisher,
		logger:     logger,
		middleware: mw,
	}
}

// RegisterRoutes registers event routes with the router.
func (h *EventHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().POST("/events/:name", h.Publish, h.middleware...)
}

// Publish handles POST /api/v1/events/:name.
// The request body is the event payload. Only events the remote module
// emits are accepted; the request ID becomes the correlation ID.
func (h *EventHandler) Publish(c echo.Context) error {
	name := c.Param("name")
	if err := event.ValidateName(name); err != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_EVENT_NAME", err.Error())
	}
	if !event.IsRemoteEvent(name) {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "EVENT_NOT_ACCEPTED",
			"event cannot be published: "+name)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
	}

	evt, err := event.New(name, json.RawMessage(body))
	if err != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_PAYLOAD", "payload must be a JSON document")
	}

	ctx := c.Request().Context()
	evt = evt.WithMetadata(event.Metadata{
		Source:        event.SourceHTTP,
		CorrelationID: middleware.RequestIDFromContext(ctx),
	})

	if err = h.publisher.Dispatch(ctx, evt); err != nil {
		h.logger.ErrorContext(ctx, "failed to dispatch event",
			slog.String("event_name", name),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, event.ErrInvalidEventName) {
			return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_EVENT_NAME", err.Error())
		}
		return httpserver.RespondError(c, err)
	}

	return httpserver.RespondAccepted(c, PublishedEventResponse{ID: evt.ID, Name: evt.Name})
}
