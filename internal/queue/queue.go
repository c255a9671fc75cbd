package queue

import (
	"context"
	"sync"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/observability"
)

// EventQueue carries security events from the auditor to the forwarder
type EventQueue interface {
	// Publish adds an event without blocking and reports whether it was
	// accepted. A full or closed queue drops the event.
	Publish(event audit.Event) bool

	// Dequeue retrieves an event for forwarding (blocking)
	Dequeue(ctx context.Context) (audit.Event, error)

	// Complete marks an event as forwarded (for metrics/logging)
	Complete(ctx context.Context, eventID string) error

	// Fail marks an event as undeliverable (for metrics/logging)
	Fail(ctx context.Context, eventID string, err error) error

	// GetQueueDepth returns current queue size
	GetQueueDepth(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// InMemoryQueue implements EventQueue using a buffered channel
type InMemoryQueue struct {
	events     chan audit.Event
	pending    map[string]bool // Deduplication map: event ID -> queued
	pendingMu  sync.Mutex
	metrics    *QueueMetrics
	metricsMu  sync.RWMutex
	closed     bool
	closedMu   sync.RWMutex
	bufferSize int
	prom       *observability.Metrics
}

// QueueMetrics tracks queue operation statistics
type QueueMetrics struct {
	Enqueued   int64
	Dequeued   int64
	Completed  int64
	Failed     int64
	Dropped    int64 // Dropped because the queue was full or closed
	Duplicates int64
}

// NewInMemoryQueue creates a new in-memory event queue
func NewInMemoryQueue(bufferSize int) *InMemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &InMemoryQueue{
		events:     make(chan audit.Event, bufferSize),
		pending:    make(map[string]bool),
		metrics:    &QueueMetrics{},
		bufferSize: bufferSize,
		prom:       observability.GetMetrics(),
	}
}

// Publish adds an event without blocking. It satisfies audit.EventPublisher.
func (q *InMemoryQueue) Publish(event audit.Event) bool {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	if q.closed {
		q.drop()
		return false
	}

	if !q.reserve(event.EventID) {
		return false
	}

	select {
	case q.events <- event:
		q.accepted()
		return true
	default:
		q.release(event.EventID)
		q.drop()
		return false
	}
}

// Dequeue retrieves an event for forwarding (blocking)
func (q *InMemoryQueue) Dequeue(ctx context.Context) (audit.Event, error) {
	select {
	case event, ok := <-q.events:
		if !ok {
			return audit.Event{}, errors.NewPermanentf("queue is closed")
		}

		q.release(event.EventID)
		q.incrementMetric("dequeued")
		q.prom.EventQueueDepth.Set(float64(len(q.events)))
		return event, nil
	case <-ctx.Done():
		return audit.Event{}, ctx.Err()
	}
}

// Complete marks an event as forwarded
func (q *InMemoryQueue) Complete(ctx context.Context, eventID string) error {
	q.incrementMetric("completed")
	return nil
}

// Fail marks an event as undeliverable
func (q *InMemoryQueue) Fail(ctx context.Context, eventID string, err error) error {
	q.incrementMetric("failed")
	return nil
}

// GetQueueDepth returns current queue size
func (q *InMemoryQueue) GetQueueDepth(ctx context.Context) (int, error) {
	return len(q.events), nil
}

// Close shuts down the queue gracefully. Events already queued can still
// be dequeued.
func (q *InMemoryQueue) Close() error {
	q.closedMu.Lock()
	defer q.closedMu.Unlock()

	if q.closed {
		return errors.NewPermanentf("queue already closed")
	}

	q.closed = true
	close(q.events)
	return nil
}

// GetMetrics returns a copy of current metrics
func (q *InMemoryQueue) GetMetrics() QueueMetrics {
	q.metricsMu.RLock()
	defer q.metricsMu.RUnlock()
	return *q.metrics
}

// reserve marks an event ID as queued and reports false for a duplicate
func (q *InMemoryQueue) reserve(eventID string) bool {
	if eventID == "" {
		return true
	}
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if q.pending[eventID] {
		q.incrementMetric("duplicate")
		return false
	}
	q.pending[eventID] = true
	return true
}

func (q *InMemoryQueue) release(eventID string) {
	q.pendingMu.Lock()
	delete(q.pending, eventID)
	q.pendingMu.Unlock()
}

func (q *InMemoryQueue) accepted() {
	q.incrementMetric("enqueued")
	q.prom.EventsEnqueued.Inc()
	q.prom.EventQueueDepth.Set(float64(len(q.events)))
}

func (q *InMemoryQueue) drop() {
	q.incrementMetric("dropped")
	q.prom.EventsDropped.Inc()
}

// incrementMetric safely increments a metric counter
func (q *InMemoryQueue) incrementMetric(metric string) {
	q.metricsMu.Lock()
	defer q.metricsMu.Unlock()

	switch metric {
	case "enqueued":
		q.metrics.Enqueued++
	case "dequeued":
		q.metrics.Dequeued++
	case "completed":
		q.metrics.Completed++
	case "failed":
		q.metrics.Failed++
	case "dropped":
		q.metrics.Dropped++
	case "duplicate":
		q.metrics.Duplicates++
	}
}
