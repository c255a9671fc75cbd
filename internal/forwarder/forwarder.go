package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/observability"
	"github.com/daimoniac/docshield/internal/queue"
)

// Sink receives forwarded security events
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Send delivers one event. Transient errors are retried.
	Send(ctx context.Context, event audit.Event) error

	// Close releases the sink's resources
	Close() error
}

// Config contains configuration for the forwarder
type Config struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int // Number of concurrent workers
	// BlockedOnly forwards only BLOCKED events
	BlockedOnly     bool
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default forwarder configuration
func DefaultConfig() Config {
	return Config{
		RetryAttempts:   3,
		RetryBackoff:    time.Second,
		Concurrency:     2,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Forwarder drains the event queue into every configured sink
type Forwarder struct {
	queue   queue.EventQueue
	sinks   []Sink
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// NewForwarder creates a new forwarder instance
func NewForwarder(q queue.EventQueue, sinks []Sink, config Config, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	return &Forwarder{
		queue:   q,
		sinks:   sinks,
		config:  config,
		logger:  logger,
		metrics: observability.GetMetrics(),
	}
}

// Start processes events until ctx is cancelled or the queue is closed and
// drained
func (f *Forwarder) Start(ctx context.Context) error {
	concurrency := f.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	f.logger.Info("forwarder starting", "concurrency", concurrency, "sinks", names)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < concurrency; i++ {
		f.wg.Add(1)
		go func(workerID int) {
			defer f.wg.Done()
			f.processLoop(workerCtx, workerID)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// queue closed and drained
		f.logger.Info("forwarder stopped, queue drained")
		return nil
	case <-workerCtx.Done():
	}

	f.logger.Info("forwarder shutting down, waiting for in-flight events")

	select {
	case <-done:
		f.logger.Info("forwarder shutdown complete")
		return nil
	case <-time.After(f.config.ShutdownTimeout):
		f.logger.Warn("forwarder shutdown timeout, some events may not have been delivered")
		return fmt.Errorf("shutdown timeout")
	}
}

// processLoop is the main event forwarding loop
func (f *Forwarder) processLoop(ctx context.Context, workerID int) {
	for {
		event, err := f.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.IsPermanent(err) {
				// Queue closed and drained
				return
			}
			f.logger.Error("failed to dequeue event", "worker_id", workerID, "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if f.config.BlockedOnly && !event.Blocked() {
			_ = f.queue.Complete(ctx, event.EventID)
			continue
		}

		if err := f.Forward(ctx, event); err != nil {
			f.logger.Error("event forwarding failed",
				"worker_id", workerID,
				"event_id", event.EventID,
				"error", err)
			_ = f.queue.Fail(ctx, event.EventID, err)
		} else {
			_ = f.queue.Complete(ctx, event.EventID)
		}
	}
}

// Forward delivers event to every sink. It returns the first error after
// trying all sinks.
func (f *Forwarder) Forward(ctx context.Context, event audit.Event) error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := f.send(ctx, sink, event); err != nil {
			f.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("sink %s: %w", sink.Name(), err)
			}
			continue
		}
		f.metrics.EventsForwarded.WithLabelValues(sink.Name()).Inc()
	}
	return firstErr
}

// send delivers event to one sink with retry logic
func (f *Forwarder) send(ctx context.Context, sink Sink, event audit.Event) error {
	var lastErr error
	for attempt := 1; attempt <= f.config.RetryAttempts; attempt++ {
		err := sink.Send(ctx, event)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.IsTransient(err) || attempt >= f.config.RetryAttempts {
			return err
		}

		backoff := f.config.RetryBackoff * time.Duration(attempt)
		f.logger.Warn("transient sink error, retrying",
			"sink", sink.Name(),
			"event_id", event.EventID,
			"attempt", attempt,
			"max_attempts", f.config.RetryAttempts,
			"backoff", backoff,
			"error", err)
		f.metrics.ForwarderRetries.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return errors.NewPermanentf("max retries exceeded: %w", lastErr)
}

// Close closes every sink
func (f *Forwarder) Close() error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close sink %s: %w", sink.Name(), err)
		}
	}
	return firstErr
}
