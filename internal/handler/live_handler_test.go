package handler_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/peerprep/oa-api/internal/handler"
	"github.com/peerprep/oa-api/internal/middleware"
	"github.com/peerprep/oa-api/internal/service"
)

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

func TestLiveHandlerStreamsAttemptEvents(t *testing.T) {
	bus := service.NewEventBus(nil, "oa", nil, zerolog.Nop())
	liveService := service.NewLiveService(bus, zerolog.Nop())
	liveHandler := handler.NewLiveHandler(liveService, zerolog.Nop())

	app := fiber.New()
	app.Use(middleware.CorrelationID())

	assessments := app.Group("/api/v1/assessments", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(42))
		return c.Next()
	})
	liveHandler.Register(assessments)

	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/assessments/1/live"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// Give the server loop a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)

	sectionIndex := 0
	score := 4
	bus.Publish(context.Background(), service.AttemptEvent{
		Type:         service.EventSectionSubmitted,
		AssessmentID: 1,
		UserID:       7,
		SectionIndex: &sectionIndex,
		Score:        &score,
		Status:       "active",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var event service.AttemptEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, service.EventSectionSubmitted, event.Type)
	require.Equal(t, uint(1), event.AssessmentID)
	require.Equal(t, uint(7), event.UserID)
	require.Equal(t, 4, *event.Score)
}

func TestLiveHandlerRequiresUpgrade(t *testing.T) {
	bus := service.NewEventBus(nil, "oa", nil, zerolog.Nop())
	liveHandler := handler.NewLiveHandler(service.NewLiveService(bus, zerolog.Nop()), zerolog.Nop())

	app := fiber.New()
	assessments := app.Group("/api/v1/assessments", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(42))
		return c.Next()
	})
	liveHandler.Register(assessments)

	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()

	resp, err := http.Get(baseURL + "/api/v1/assessments/1/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
