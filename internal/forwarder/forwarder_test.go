package forwarder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/docstore"
	"github.com/daimoniac/docshield/internal/errors"
	"github.com/daimoniac/docshield/internal/queue"
	"github.com/daimoniac/docshield/internal/security"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records delivered events and fails the first failures sends
type fakeSink struct {
	mu        sync.Mutex
	name      string
	failures  int
	transient bool
	calls     int
	events    []audit.Event
	closed    bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		if s.transient {
			return errors.NewTransientf("sink %s unavailable", s.name)
		}
		return errors.NewPermanentf("sink %s rejected event", s.name)
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) delivered() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func blockedEvent(id string) audit.Event {
	return audit.Event{
		EventID:          id,
		Operation:        audit.OpRead,
		SourceIdentifier: "10.0.0.1",
		Outcome:          audit.OutcomeBlocked,
		Violation:        security.NewViolation(security.NoSQLInjection, security.LevelCritical, nil, "operator injection"),
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func allowedEvent(id string) audit.Event {
	return audit.Event{
		EventID:          id,
		Operation:        audit.OpCreate,
		SourceIdentifier: "10.0.0.2",
		Outcome:          audit.OutcomeAllowed,
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestForwardRetriesTransientErrors(t *testing.T) {
	sink := &fakeSink{name: "flaky", failures: 2, transient: true}
	f := NewForwarder(queue.NewInMemoryQueue(4), []Sink{sink}, Config{
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}, quietLogger())

	require.NoError(t, f.Forward(context.Background(), blockedEvent("evt-1")))
	assert.Equal(t, 3, sink.calls)
	assert.Len(t, sink.delivered(), 1)
}

func TestForwardGivesUpAfterMaxRetries(t *testing.T) {
	sink := &fakeSink{name: "down", failures: 10, transient: true}
	f := NewForwarder(queue.NewInMemoryQueue(4), []Sink{sink}, Config{
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}, quietLogger())

	err := f.Forward(context.Background(), blockedEvent("evt-1"))
	require.Error(t, err)
	assert.Equal(t, 2, sink.calls)
	assert.Contains(t, err.Error(), "sink down")
}

func TestForwardDoesNotRetryPermanentErrors(t *testing.T) {
	sink := &fakeSink{name: "strict", failures: 1}
	healthy := &fakeSink{name: "healthy"}
	f := NewForwarder(queue.NewInMemoryQueue(4), []Sink{sink, healthy}, Config{
		RetryAttempts: 5,
		RetryBackoff:  time.Millisecond,
	}, quietLogger())

	err := f.Forward(context.Background(), blockedEvent("evt-1"))
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Equal(t, 1, sink.calls)
	// the remaining sinks still receive the event
	assert.Len(t, healthy.delivered(), 1)
}

func TestStartDrainsQueue(t *testing.T) {
	q := queue.NewInMemoryQueue(16)
	sink := &fakeSink{name: "collector"}
	f := NewForwarder(q, []Sink{sink}, Config{Concurrency: 2, RetryAttempts: 1}, quietLogger())

	for i := 0; i < 5; i++ {
		require.True(t, q.Publish(blockedEvent(fmt.Sprintf("evt-%d", i))))
	}
	require.NoError(t, q.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Start(ctx))

	assert.Len(t, sink.delivered(), 5)
	metrics := q.GetMetrics()
	assert.Equal(t, int64(5), metrics.Completed)
	assert.Equal(t, int64(0), metrics.Failed)
}

func TestStartBlockedOnly(t *testing.T) {
	q := queue.NewInMemoryQueue(16)
	sink := &fakeSink{name: "collector"}
	f := NewForwarder(q, []Sink{sink}, Config{Concurrency: 1, RetryAttempts: 1, BlockedOnly: true}, quietLogger())

	require.True(t, q.Publish(allowedEvent("evt-allowed")))
	require.True(t, q.Publish(blockedEvent("evt-blocked")))
	require.NoError(t, q.Close())

	require.NoError(t, f.Start(context.Background()))

	delivered := sink.delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "evt-blocked", delivered[0].EventID)
}

func TestStartStopsOnCancel(t *testing.T) {
	q := queue.NewInMemoryQueue(4)
	f := NewForwarder(q, []Sink{&fakeSink{name: "idle"}}, Config{Concurrency: 1}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("forwarder did not stop after cancellation")
	}
}

func TestCloseClosesSinks(t *testing.T) {
	a, b := &fakeSink{name: "a"}, &fakeSink{name: "b"}
	f := NewForwarder(queue.NewInMemoryQueue(1), []Sink{a, b}, DefaultConfig(), quietLogger())
	require.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestStoreSinkPersistsEvents(t *testing.T) {
	store := docstore.NewMemoryStore()
	sink := NewStoreSink(store)
	ctx := context.Background()

	event := blockedEvent("evt-42")
	require.NoError(t, sink.Send(ctx, event))
	// redelivery of the same event is not an error
	require.NoError(t, sink.Send(ctx, event))

	count, err := store.Count(ctx, EventsCollection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	doc, err := store.FindOne(ctx, EventsCollection, docstore.Eq(docstore.IDField, "evt-42"))
	require.NoError(t, err)
	assert.Equal(t, "BLOCKED", doc["outcome"])
	assert.Equal(t, "10.0.0.1", doc["source_identifier"])
	violation, ok := doc["violation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "CRITICAL", violation["threat_level"])
}

func TestLogSinkAcceptsEvents(t *testing.T) {
	sink := NewLogSink(quietLogger())
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Send(context.Background(), blockedEvent("evt-1")))
	assert.NoError(t, sink.Send(context.Background(), allowedEvent("evt-2")))
	assert.NoError(t, sink.Close())
}

type fakeConn struct {
	mu       sync.Mutex
	err      error
	subjects []string
	payloads [][]byte
	closed   bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestNATSSinkPublishesJSON(t *testing.T) {
	conn := &fakeConn{}
	sink := newNATSSink(conn, "", quietLogger())

	require.NoError(t, sink.Send(context.Background(), blockedEvent("evt-7")))
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, DefaultSubject, conn.subjects[0])
	assert.Contains(t, string(conn.payloads[0]), `"event_id":"evt-7"`)

	require.NoError(t, sink.Close())
	assert.True(t, conn.closed)
}

func TestNATSSinkBreakerOpens(t *testing.T) {
	conn := &fakeConn{err: fmt.Errorf("connection refused")}
	sink := newNATSSink(conn, "audit.blocked", quietLogger())

	for i := 0; i < 5; i++ {
		err := sink.Send(context.Background(), blockedEvent(fmt.Sprintf("evt-%d", i)))
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	// an open breaker rejects without touching the connection
	conn.mu.Lock()
	conn.err = nil
	conn.mu.Unlock()
	err := sink.Send(context.Background(), blockedEvent("evt-next"))
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, conn.subjects)
}
