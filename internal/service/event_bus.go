package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const eventBufferSize = 16

// AttemptEventType enumerates domain events emitted by the state machine.
type AttemptEventType string

const (
	// EventSectionSubmitted fires after a section submission is recorded.
	EventSectionSubmitted AttemptEventType = "section_submitted"
	// EventParticipantTerminated fires after an attempt is terminated early.
	EventParticipantTerminated AttemptEventType = "participant_terminated"
)

// AttemptEvent describes a participant state change. The state machine only
// publishes to the EventPublisher port; transports subscribe separately.
type AttemptEvent struct {
	Type         AttemptEventType `json:"type"`
	AssessmentID uint             `json:"assessment_id"`
	UserID       uint             `json:"user_id"`
	SectionIndex *int             `json:"section_index,omitempty"`
	Score        *int             `json:"score,omitempty"`
	Status       string           `json:"status"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// EventPublisher is the outbound port for domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event AttemptEvent)
}

// EventBus fans attempt events out to in-process subscribers and, when
// configured, bridges them across nodes via redis pub/sub and NATS.
type EventBus interface {
	EventPublisher
	Subscribe(assessmentID uint) (<-chan AttemptEvent, func())
	Start(ctx context.Context)
}

type eventBus struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	broker      *eventBroker
	nodeID      string
}

type busEnvelope struct {
	Source string       `json:"source"`
	Event  AttemptEvent `json:"event"`
	SentAt time.Time    `json:"sent_at"`
}

type eventBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan AttemptEvent]struct{}
}

// NewEventBus constructs the event bus. redisClient and natsConn may be nil;
// the in-process broker works without either.
func NewEventBus(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) EventBus {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":attempts"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".attempts"
	}

	return &eventBus{
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "event_bus").Logger(),
		broker: &eventBroker{
			subscribers: make(map[uint]map[chan AttemptEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (b *eventBus) Start(ctx context.Context) {
	if b.redis != nil && b.redisStream != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *eventBus) Publish(ctx context.Context, event AttemptEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.broker.broadcast(event.AssessmentID, event)

	if b.redis == nil && b.nats == nil {
		return
	}

	envelope := busEnvelope{Source: b.nodeID, Event: event, SentAt: time.Now().UTC()}
	payload, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to encode attempt event")
		return
	}

	if b.redis != nil && b.redisStream != "" {
		if err := b.redis.Publish(ctx, b.redisStream, payload).Err(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish attempt event to redis")
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish attempt event to nats")
		}
	}
}

func (b *eventBus) Subscribe(assessmentID uint) (<-chan AttemptEvent, func()) {
	channel := make(chan AttemptEvent, eventBufferSize)
	b.broker.subscribe(assessmentID, channel)

	cleanup := func() {
		b.broker.unsubscribe(assessmentID, channel)
	}

	return channel, cleanup
}

func (b *eventBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error().Err(err).Msg("attempt event redis subscription closed")
			return
		}
		b.handleEnvelope([]byte(msg.Payload))
	}
}

func (b *eventBus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.QueueSubscribe(b.natsSubject, "oa-attempts", func(msg *nats.Msg) {
		b.handleEnvelope(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats attempts subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain attempts nats subscription")
		}
	}()
}

func (b *eventBus) handleEnvelope(payload []byte) {
	var envelope busEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid attempt event payload")
		return
	}

	if envelope.Source == b.nodeID {
		return
	}

	b.broker.broadcast(envelope.Event.AssessmentID, envelope.Event)
}

func (br *eventBroker) subscribe(assessmentID uint, ch chan AttemptEvent) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if _, exists := br.subscribers[assessmentID]; !exists {
		br.subscribers[assessmentID] = make(map[chan AttemptEvent]struct{})
	}
	br.subscribers[assessmentID][ch] = struct{}{}
}

func (br *eventBroker) unsubscribe(assessmentID uint, ch chan AttemptEvent) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if subscribers, ok := br.subscribers[assessmentID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(br.subscribers, assessmentID)
		}
	}
}

func (br *eventBroker) broadcast(assessmentID uint, event AttemptEvent) {
	br.mu.RLock()
	defer br.mu.RUnlock()

	for ch := range br.subscribers[assessmentID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// NopPublisher discards events; useful where realtime fan-out is disabled.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, AttemptEvent) {}
