package queue

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func newMessage(val int) *model.Message {
	return &model.Message{
		Kind:         model.MessageComplete,
		SourceNodeID: "A",
		Timestamp:    time.Now(),
		Context:      model.NewNodeExecutionContext(map[string]any{"value": val}),
	}
}

func TestEnqueueCheckoutComplete(t *testing.T) {
	q := New("B", Options{Capacity: 4}, testLogger())

	if err := q.Enqueue(newMessage(1)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	lease, err := q.Checkout(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("checkout error: %v", err)
	}
	if lease == nil {
		t.Fatal("expected a lease, got none")
	}

	q.Complete(lease.ID)

	if n := q.Len(); n != 0 {
		t.Errorf("expected empty queue after complete, got len=%d", n)
	}

	// Complete is idempotent.
	q.Complete(lease.ID)
}

func TestCheckoutTimesOutOnEmptyQueue(t *testing.T) {
	q := New("B", Options{Capacity: 4}, testLogger())

	lease, err := q.Checkout(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease != nil {
		t.Fatal("expected no lease from an empty queue")
	}
}

func TestAbandonRetriesThenDeadLetters(t *testing.T) {
	sink := &captureSink{}
	q := New("B", Options{Capacity: 4, MaxRetries: 2, VisibilityTimeout: time.Hour, DeadLetters: sink}, testLogger())

	if err := q.Enqueue(newMessage(1)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		lease, err := q.Checkout(context.Background(), time.Second)
		if err != nil || lease == nil {
			t.Fatalf("checkout %d failed: lease=%v err=%v", i, lease, err)
		}
		outcome := q.Abandon(lease.ID, nil)
		if outcome != model.OutcomeRetried {
			t.Fatalf("abandon %d: expected retried, got %s", i, outcome)
		}
	}

	lease, err := q.Checkout(context.Background(), time.Second)
	if err != nil || lease == nil {
		t.Fatalf("final checkout failed: lease=%v err=%v", lease, err)
	}
	outcome := q.Abandon(lease.ID, nil)
	if outcome != model.OutcomeDeadLettered {
		t.Fatalf("expected dead-lettered, got %s", outcome)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", len(sink.entries))
	}
	if sink.entries[0].FinalRetryCount != 2 {
		t.Errorf("expected final retry count 2, got %d", sink.entries[0].FinalRetryCount)
	}

	if n := q.Len(); n != 0 {
		t.Errorf("expected empty queue after dead-letter, got len=%d", n)
	}
}

func TestSweepExpiredRecyclesLeakedLease(t *testing.T) {
	q := New("B", Options{Capacity: 4, VisibilityTimeout: 10 * time.Millisecond}, testLogger())

	if err := q.Enqueue(newMessage(1)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	first, err := q.Checkout(context.Background(), time.Second)
	if err != nil || first == nil {
		t.Fatalf("checkout failed: lease=%v err=%v", first, err)
	}

	// Simulate a crashed consumer: never complete or abandon.
	time.Sleep(20 * time.Millisecond)

	second, err := q.Checkout(context.Background(), time.Second)
	if err != nil || second == nil {
		t.Fatalf("expected redelivery after sweep, got lease=%v err=%v", second, err)
	}
	if second.ID == first.ID {
		t.Error("expected a new lease id on redelivery")
	}
	if second.Envelope.Retry != 1 {
		t.Errorf("expected retry count 1 after sweep, got %d", second.Envelope.Retry)
	}
}

func TestEnqueueDisplacesOldestReadyNotInFlight(t *testing.T) {
	q := New("B", Options{Capacity: 2, VisibilityTimeout: time.Hour}, testLogger())

	if err := q.Enqueue(newMessage(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(newMessage(2)); err != nil {
		t.Fatal(err)
	}

	// Lease the first envelope so it becomes in-flight and ineligible for
	// displacement.
	lease, err := q.Checkout(context.Background(), time.Second)
	if err != nil || lease == nil {
		t.Fatalf("checkout failed: %v %v", lease, err)
	}

	// Queue is full (one in-flight, one ready); enqueueing a third message
	// must displace the ready envelope, not the in-flight one.
	if err := q.Enqueue(newMessage(3)); err != nil {
		t.Fatal(err)
	}

	if n := q.Len(); n != 2 {
		t.Fatalf("expected 2 envelopes (1 in-flight + 1 ready), got %d", n)
	}

	q.Complete(lease.ID)
	if n := q.Len(); n != 1 {
		t.Fatalf("expected 1 envelope remaining after completing the lease, got %d", n)
	}
}

type captureSink struct {
	entries []model.DeadLetterEntry
}

func (c *captureSink) DeadLetter(entry model.DeadLetterEntry) {
	c.entries = append(c.entries, entry)
}
