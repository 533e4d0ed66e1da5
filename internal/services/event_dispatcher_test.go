package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
	block  chan struct{}
}

func (s *recordingSink) Save(_ context.Context, event models.SecurityEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SecurityEvent(nil), s.events...)
}

func TestEventDispatcher_CloseDrains(t *testing.T) {
	sink := &recordingSink{}
	d := NewEventDispatcher(DispatcherConfig{BufferSize: 64}, sink, discardLogger())

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), models.SecurityEvent{Type: models.EventInputSanitized})
	}
	d.Close()

	assert.Len(t, sink.Events(), 20)
	assert.Zero(t, d.Dropped())
}

func TestEventDispatcher_DropIfFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewEventDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink, discardLogger())

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), models.SecurityEvent{Type: models.EventInputSanitized})
	}

	// worker holds at most one event and the buffer one more
	assert.GreaterOrEqual(t, d.Dropped(), uint64(8))

	close(sink.block)
	d.Close()
}

func TestEventDispatcher_CountsFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	d := NewEventDispatcher(DispatcherConfig{BufferSize: 4}, sink, discardLogger())

	d.Emit(context.Background(), models.SecurityEvent{Type: models.EventThreatBlocked})
	d.Emit(context.Background(), models.SecurityEvent{Type: models.EventThreatBlocked})
	d.Close()

	assert.Equal(t, uint64(2), d.Failed())
}

func TestEventDispatcher_EmitAfterCloseIsNoop(t *testing.T) {
	sink := &recordingSink{}
	d := NewEventDispatcher(DispatcherConfig{BufferSize: 4}, sink, discardLogger())
	d.Close()
	d.Close()

	d.Emit(context.Background(), models.SecurityEvent{Type: models.EventThreatBlocked})
	require.Empty(t, sink.Events())
}

func TestEventDispatcher_NilIsSafe(t *testing.T) {
	var d *EventDispatcher
	d.Emit(context.Background(), models.SecurityEvent{})
	d.Close()
	assert.Zero(t, d.Dropped())
	assert.Zero(t, d.Failed())
}
