package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToAssessmentSubscribers(t *testing.T) {
	bus := NewEventBus(nil, "oa", nil, zerolog.Nop())

	events, cancel := bus.Subscribe(1)
	defer cancel()

	otherEvents, otherCancel := bus.Subscribe(2)
	defer otherCancel()

	sectionIndex := 0
	score := 3
	bus.Publish(context.Background(), AttemptEvent{
		Type:         EventSectionSubmitted,
		AssessmentID: 1,
		UserID:       7,
		SectionIndex: &sectionIndex,
		Score:        &score,
		Status:       "active",
	})

	select {
	case event := <-events:
		require.Equal(t, EventSectionSubmitted, event.Type)
		require.Equal(t, uint(7), event.UserID)
		require.Equal(t, 3, *event.Score)
		require.False(t, event.OccurredAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected an event for assessment 1")
	}

	select {
	case event := <-otherEvents:
		t.Fatalf("unexpected event for assessment 2: %+v", event)
	default:
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(nil, "oa", nil, zerolog.Nop())

	events, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-events
	require.False(t, open)

	// Publishing after the last unsubscribe must not panic.
	bus.Publish(context.Background(), AttemptEvent{
		Type:         EventParticipantTerminated,
		AssessmentID: 1,
		UserID:       7,
		Status:       "terminated",
	})
}

func TestEventBusDropsEventsForSlowSubscribers(t *testing.T) {
	bus := NewEventBus(nil, "oa", nil, zerolog.Nop())

	events, cancel := bus.Subscribe(1)
	defer cancel()

	// Overfill the buffer; the publisher must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBufferSize*2; i++ {
			bus.Publish(context.Background(), AttemptEvent{
				Type:         EventSectionSubmitted,
				AssessmentID: 1,
				UserID:       7,
				Status:       "active",
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-events:
			received++
			continue
		default:
		}
		break
	}
	require.Equal(t, eventBufferSize, received)
}
