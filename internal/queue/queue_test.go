package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/security"
)

func testEvent(id string) audit.Event {
	return audit.Event{
		EventID:          id,
		Operation:        audit.OpRead,
		SourceIdentifier: "203.0.113.7",
		Outcome:          audit.OutcomeBlocked,
		Violation:        security.NewViolation(security.NoSQLInjection, security.LevelHigh, nil, "operator key"),
		Timestamp:        time.Now(),
	}
}

func TestNewInMemoryQueue(t *testing.T) {
	q := NewInMemoryQueue(100)
	if q == nil {
		t.Fatal("expected non-nil queue")
	}

	if q.bufferSize != 100 {
		t.Errorf("expected buffer size 100, got %d", q.bufferSize)
	}

	if q.events == nil {
		t.Error("expected non-nil events channel")
	}

	if q.pending == nil {
		t.Error("expected non-nil pending map")
	}

	if NewInMemoryQueue(0).bufferSize != 1024 {
		t.Error("expected default buffer size for zero")
	}
}

func TestQueueSatisfiesEventPublisher(t *testing.T) {
	var _ audit.EventPublisher = NewInMemoryQueue(1)
	var _ EventQueue = NewInMemoryQueue(1)
}

func TestPublishDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	if !q.Publish(testEvent("evt-1")) {
		t.Fatal("expected publish to be accepted")
	}

	metrics := q.GetMetrics()
	if metrics.Enqueued != 1 {
		t.Errorf("expected 1 enqueued, got %d", metrics.Enqueued)
	}

	event, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("failed to dequeue: %v", err)
	}
	if event.EventID != "evt-1" {
		t.Errorf("expected evt-1, got %s", event.EventID)
	}
	if event.Violation == nil || event.Violation.Type != security.NoSQLInjection {
		t.Errorf("violation not carried through the queue: %+v", event.Violation)
	}
	if q.GetMetrics().Dequeued != 1 {
		t.Errorf("expected 1 dequeued, got %d", q.GetMetrics().Dequeued)
	}
}

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	q := NewInMemoryQueue(2)
	defer q.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			q.Publish(testEvent(string(rune('a' + i))))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	metrics := q.GetMetrics()
	if metrics.Enqueued != 2 {
		t.Errorf("expected 2 enqueued, got %d", metrics.Enqueued)
	}
	if metrics.Dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", metrics.Dropped)
	}

	// dropped IDs are not left reserved
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if !q.Publish(testEvent("c")) {
		t.Error("expected a previously dropped event ID to be accepted once there is room")
	}
}

func TestDeduplication(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	if !q.Publish(testEvent("evt-1")) {
		t.Fatal("expected publish to be accepted")
	}
	for i := 0; i < 2; i++ {
		if q.Publish(testEvent("evt-1")) {
			t.Error("duplicate publish should be rejected")
		}
	}

	depth, _ := q.GetQueueDepth(ctx)
	if depth != 1 {
		t.Errorf("expected depth 1, got %d", depth)
	}
	if q.GetMetrics().Duplicates != 2 {
		t.Errorf("expected 2 duplicates, got %d", q.GetMetrics().Duplicates)
	}
}

func TestDeduplicationAfterDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	q.Publish(testEvent("evt-1"))
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if !q.Publish(testEvent("evt-1")) {
		t.Error("expected event to be accepted again after dequeue")
	}
}

func TestCompleteAndFail(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	q.Complete(ctx, "evt-1")
	q.Fail(ctx, "evt-2", errors.New("sink unavailable"))

	metrics := q.GetMetrics()
	if metrics.Completed != 1 || metrics.Failed != 1 {
		t.Errorf("expected 1 completed and 1 failed, got %+v", metrics)
	}
}

func TestDequeueWithTimeout(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseQueue(t *testing.T) {
	q := NewInMemoryQueue(10)
	q.Publish(testEvent("evt-1"))

	if err := q.Close(); err != nil {
		t.Fatalf("failed to close queue: %v", err)
	}
	if err := q.Close(); err == nil {
		t.Error("expected error closing twice")
	}

	if q.Publish(testEvent("evt-2")) {
		t.Error("publish after close should be rejected")
	}
	if q.GetMetrics().Dropped != 1 {
		t.Errorf("expected publish after close to count as dropped, got %d", q.GetMetrics().Dropped)
	}

	// queued events drain after close
	event, err := q.Dequeue(context.Background())
	if err != nil || event.EventID != "evt-1" {
		t.Errorf("expected to drain evt-1, got %v, %v", event.EventID, err)
	}
	if _, err := q.Dequeue(context.Background()); err == nil {
		t.Error("expected error from drained closed queue")
	}
}

func TestPublishWithoutEventIDSkipsDeduplication(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	if !q.Publish(audit.Event{}) || !q.Publish(audit.Event{}) {
		t.Error("expected events without an ID to be accepted")
	}
	if q.GetMetrics().Duplicates != 0 {
		t.Errorf("expected no duplicates, got %d", q.GetMetrics().Duplicates)
	}
}

func TestConcurrentPublish(t *testing.T) {
	q := NewInMemoryQueue(1000)
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				q.Publish(testEvent(string(rune('A'+i)) + string(rune('a'+j))))
			}
		}(i)
	}
	wg.Wait()

	depth, _ := q.GetQueueDepth(context.Background())
	if depth != 500 {
		t.Errorf("expected 500 queued events, got %d", depth)
	}
}
