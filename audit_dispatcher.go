package goSession

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
)

// auditDispatcher moves audit events off the session request path. Events
// are queued on a bounded channel and handed to the sink by one goroutine.
// Close wakes blocked emitters, closes the queue and waits until every
// queued event reached the sink.
type auditDispatcher struct {
	dropIfFull bool
	sink       AuditSink
	logger     *slog.Logger

	queue chan AuditEvent
	stop  chan struct{}

	// mu guards closing queue against concurrent sends.
	mu     sync.RWMutex
	closed bool

	dropped       atomic.Uint64
	dropMu        sync.Mutex
	droppedByType map[string]uint64

	stopOnce sync.Once
	finished chan struct{}
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &auditDispatcher{
		dropIfFull:    cfg.DropIfFull,
		sink:          sink,
		logger:        logger,
		queue:         make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:          make(chan struct{}),
		droppedByType: make(map[string]uint64),
		finished:      make(chan struct{}),
	}
	go d.deliverAll()
	return d
}

func (d *auditDispatcher) deliverAll() {
	defer close(d.finished)
	for event := range d.queue {
		d.deliver(event)
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// only.
func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", "event_type", event.EventType, "panic", r)
			d.recordDrop(event.EventType)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full queue drops the event;
// otherwise Emit waits for room until ctx ends or the dispatcher closes.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.recordDrop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.recordDrop(event.EventType)
	case <-d.stop:
	}
}

func (d *auditDispatcher) recordDrop(eventType string) {
	d.dropped.Add(1)

	d.dropMu.Lock()
	d.droppedByType[eventType]++
	first := d.droppedByType[eventType] == 1
	d.dropMu.Unlock()

	if first {
		d.logger.Warn("audit events are being dropped", "event_type", eventType)
	}
}

// Close delivers whatever is still queued and stops the worker. It is
// idempotent.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stop)

		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		<-d.finished

		if byType := d.DroppedByType(); len(byType) > 0 {
			args := make([]any, 0, 2*len(byType))
			for eventType, n := range byType {
				args = append(args, eventType, n)
			}
			d.logger.Warn("audit dispatcher closed with dropped events", slog.Group("dropped", args...))
		}
	})
}

// Dropped returns the number of events that never reached the sink.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType breaks Dropped down by event type.
func (d *auditDispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	return maps.Clone(d.droppedByType)
}
