package httphandler_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/domain/event"
	httphandler "github.com/lllypuk/dashhost/internal/handler/http"
	"github.com/lllypuk/dashhost/internal/middleware"
)

func newEventAPI(publisher httphandler.EventPublisher, mw ...echo.MiddlewareFunc) *echo.Echo {
	e, router := newRouter()
	router.RegisterAll(httphandler.NewEventHandler(publisher, nil, mw...))
	return e
}

func TestEventHandler_Publish(t *testing.T) {
	t.Run("remote event is dispatched", func(t *testing.T) {
		publisher := &recordingPublisher{}
		e := newEventAPI(publisher)

		req := `{"productId":"p-1","oldStatus":"inactive","newStatus":"active"}`
		rec := do(e, http.MethodPost, "/api/v1/events/"+event.ProductStatusToggled, jsonBody(req))

		require.Equal(t, http.StatusAccepted, rec.Code)
		env := decode[httphandler.PublishedEventResponse](t, rec.Body.Bytes())
		assert.Equal(t, event.ProductStatusToggled, env.Data.Name)

		require.Len(t, publisher.events, 1)
		evt := publisher.events[0]
		assert.Equal(t, env.Data.ID, evt.ID)
		assert.Equal(t, event.SourceHTTP, evt.Metadata.Source)
		assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), evt.Metadata.CorrelationID)

		payload, err := event.Decode[event.ProductStatusToggledPayload](evt)
		require.NoError(t, err)
		assert.Equal(t, "p-1", payload.ProductID)
	})

	t.Run("empty body becomes empty payload", func(t *testing.T) {
		publisher := &recordingPublisher{}
		e := newEventAPI(publisher)

		rec := do(e, http.MethodPost, "/api/v1/events/"+event.MetricsResponse, nil)

		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, publisher.events, 1)
		assert.JSONEq(t, `{}`, string(publisher.events[0].Payload))
	})

	tests := []struct {
		name     string
		event    string
		body     string
		wantCode string
	}{
		{name: "un-namespaced name", event: "product-added", body: `{}`, wantCode: "INVALID_EVENT_NAME"},
		{name: "host event", event: event.RequestMetrics, body: `{}`, wantCode: "EVENT_NOT_ACCEPTED"},
		{name: "unknown event", event: "sx-product-manager:product-archived", body: `{}`, wantCode: "EVENT_NOT_ACCEPTED"},
		{name: "malformed payload", event: event.ProductAdded, body: `{"product":`, wantCode: "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &recordingPublisher{}
			e := newEventAPI(publisher)

			rec := do(e, http.MethodPost, "/api/v1/events/"+tt.event, jsonBody(tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			env := decode[httphandler.PublishedEventResponse](t, rec.Body.Bytes())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.Empty(t, publisher.events)
		})
	}

	t.Run("dispatch failure", func(t *testing.T) {
		e := newEventAPI(&recordingPublisher{err: errors.New("bus closed")})

		rec := do(e, http.MethodPost, "/api/v1/events/"+event.ProductRemoved, jsonBody(`{"productId":"p-1"}`))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		limiter := middleware.RateLimit(middleware.RateLimitConfig{
			Store: middleware.NewMemoryRateLimitStore(),
			Limit: 1,
		})
		e := newEventAPI(&recordingPublisher{}, limiter)

		path := "/api/v1/events/" + event.ProductRemoved
		assert.Equal(t, http.StatusAccepted, do(e, http.MethodPost, path, jsonBody(`{}`)).Code)
		assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodPost, path, jsonBody(`{}`)).Code)
	})
}
