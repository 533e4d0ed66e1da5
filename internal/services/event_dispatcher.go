package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// EventSink persists security events
type EventSink interface {
	Save(ctx context.Context, event models.SecurityEvent) error
}

// DispatcherConfig controls dispatcher buffering behavior
type DispatcherConfig struct {
	BufferSize  int
	DropIfFull  bool
	SaveTimeout time.Duration
}

// EventDispatcher forwards security events to a sink off the request path
type EventDispatcher struct {
	cfg       DispatcherConfig
	sink      EventSink
	logger    *slog.Logger
	ch        chan models.SecurityEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewEventDispatcher starts the worker goroutine
func NewEventDispatcher(cfg DispatcherConfig, sink EventSink, logger *slog.Logger) *EventDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &EventDispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan models.SecurityEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *EventDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.save(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.save(event)
				default:
					return
				}
			}
		}
	}
}

func (d *EventDispatcher) save(event models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SaveTimeout)
	defer cancel()

	if err := d.sink.Save(ctx, event); err != nil {
		d.failed.Add(1)
		d.logger.Error("failed to persist security event",
			slog.String("event_type", event.Type),
			slog.Any("error", err))
	}
}

// Emit queues an event. With DropIfFull it never blocks.
func (d *EventDispatcher) Emit(ctx context.Context, event models.SecurityEvent) {
	if d == nil || d.closed.Load() {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close drains queued events and stops the worker
func (d *EventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events discarded because the buffer was full
func (d *EventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events the sink rejected
func (d *EventDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
