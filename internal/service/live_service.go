package service

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/peerprep/oa-api/internal/observability"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

// LiveConnectionOptions wraps metadata extracted during the HTTP upgrade.
type LiveConnectionOptions struct {
	UserID        string
	AssessmentID  uint
	CorrelationID string
	Context       context.Context
}

// LiveService streams attempt events for an assessment to websocket viewers.
// It is a pure transport adapter over the event bus: it subscribes and
// forwards, nothing more.
type LiveService interface {
	ServeConnection(conn *websocket.Conn, opts LiveConnectionOptions)
}

type liveService struct {
	bus    EventBus
	logger zerolog.Logger
}

// NewLiveService creates the websocket fan-out adapter.
func NewLiveService(bus EventBus, logger zerolog.Logger) LiveService {
	return &liveService{
		bus:    bus,
		logger: logger.With().Str("component", "live_service").Logger(),
	}
}

func (s *liveService) ServeConnection(conn *websocket.Conn, opts LiveConnectionOptions) {
	events, cancel := s.bus.Subscribe(opts.AssessmentID)
	defer cancel()

	observability.LiveClientsActive().Inc()
	defer observability.LiveClientsActive().Dec()

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	logger := s.logger.With().
		Uint("assessment_id", opts.AssessmentID).
		Str("user_id", opts.UserID).
		Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			deadline := time.Now().Add(liveWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("live client write failed")
				return
			}
		}
	}
}
