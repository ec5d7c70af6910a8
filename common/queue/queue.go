// Package queue implements the per-node message queue at the core of the
// orchestration engine: a bounded ring buffer offering at-least-once
// delivery through lease/visibility-timeout semantics. Every slot
// transition is a compare-and-swap on that slot's pointer; no mutex is held
// across a wait. A buffered channel is used purely as a wake-up signal for
// checkout — it never stores queue state, so the slot array remains the
// single source of truth and the design stays lock-free.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/model"
)

const (
	DefaultCapacity          = 1000
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRetries        = 3
)

// DeadLetterSink receives envelopes that exhausted their retry budget.
type DeadLetterSink interface {
	DeadLetter(entry model.DeadLetterEntry)
}

// slot is the immutable value a ring position points to. Transitions are
// performed with atomic.Pointer[slot].CompareAndSwap; a nil pointer means
// the slot is empty.
type slot struct {
	envelope *model.Envelope
}

// Queue is the concurrent, lease-based message store for one node.
type Queue struct {
	nodeID            string
	slots             []atomic.Pointer[slot]
	avail             chan struct{}
	maxRetries        int
	visibilityTimeout time.Duration
	deadLetters       DeadLetterSink
	log               *logger.Logger
}

// Options configures a per-node Queue. Zero values fall back to the package
// defaults (capacity 1000, visibility timeout 5m, max retries 3).
type Options struct {
	Capacity          int
	VisibilityTimeout time.Duration
	MaxRetries        int
	DeadLetters       DeadLetterSink
}

// New creates a Queue for one node.
func New(nodeID string, opts Options, log *logger.Logger) *Queue {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	vt := opts.VisibilityTimeout
	if vt <= 0 {
		vt = DefaultVisibilityTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Queue{
		nodeID:            nodeID,
		slots:             make([]atomic.Pointer[slot], capacity),
		avail:             make(chan struct{}, capacity),
		maxRetries:        maxRetries,
		visibilityTimeout: vt,
		deadLetters:       opts.DeadLetters,
		log:               log,
	}
}

// Len returns the count of ready+in-flight envelopes, used by the engine's
// termination snapshot test.
func (q *Queue) Len() int {
	n := 0
	for i := range q.slots {
		if s := q.slots[i].Load(); s != nil {
			n++
		}
	}
	return n
}

// Enqueue never blocks. It places the message into an empty slot, or, if
// the ring is full, displaces the oldest ready (never in-flight) envelope.
func (q *Queue) Enqueue(message *model.Message) error {
	if message == nil {
		return fmt.Errorf("queue %s: cannot enqueue nil message", q.nodeID)
	}

	now := time.Now()
	envelope := &model.Envelope{
		ID:           uuid.NewString(),
		Message:      message,
		EnqueueTime:  now,
		VisibleAfter: now,
		Status:       model.EnvelopeReady,
	}
	next := &slot{envelope: envelope}

	// Pass 1: claim an empty slot.
	for i := range q.slots {
		if q.slots[i].CompareAndSwap(nil, next) {
			q.signal()
			return nil
		}
	}

	// Pass 2: displace the oldest ready envelope. Never touches an
	// in-flight slot. Retried across contention since another producer may
	// win the CAS on the same slot first.
	for {
		oldestIdx := -1
		var oldestTime time.Time
		var oldestSlot *slot
		for i := range q.slots {
			cur := q.slots[i].Load()
			if cur == nil || cur.envelope.Status != model.EnvelopeReady {
				continue
			}
			if oldestIdx == -1 || cur.envelope.EnqueueTime.Before(oldestTime) {
				oldestIdx = i
				oldestTime = cur.envelope.EnqueueTime
				oldestSlot = cur
			}
		}
		if oldestIdx == -1 {
			// Every slot is in-flight; enqueue must still never block, so
			// the message is dropped with a log rather than displacing
			// active work.
			q.log.Warn("queue saturated with in-flight envelopes, dropping enqueue",
				"node_id", q.nodeID)
			return nil
		}
		if q.slots[oldestIdx].CompareAndSwap(oldestSlot, next) {
			q.signal()
			return nil
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.avail <- struct{}{}:
	default:
	}
}

// Checkout waits up to timeout for a ready, visible envelope and returns a
// lease on it. Returns (nil, nil) — "none" — on timeout or cancellation.
func (q *Queue) Checkout(ctx context.Context, timeout time.Duration) (*model.Lease, error) {
	// An envelope whose backoff or lease expiry elapses during the wait sends
	// no signal, so the wait is re-checked at least this often.
	const checkoutPollInterval = 10 * time.Millisecond
	deadline := time.Now().Add(timeout)

	for {
		q.SweepExpired()

		if lease := q.tryClaim(); lease != nil {
			return lease, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		wait := remaining
		if wait > checkoutPollInterval {
			wait = checkoutPollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-q.avail:
			timer.Stop()
			// Spurious wakeups (another consumer already claimed the
			// signaled envelope) are tolerated by rescanning.
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		}
	}
}

func (q *Queue) tryClaim() *model.Lease {
	now := time.Now()
	for i := range q.slots {
		cur := q.slots[i].Load()
		if cur == nil || cur.envelope.Status != model.EnvelopeReady {
			continue
		}
		if cur.envelope.VisibleAfter.After(now) {
			continue
		}

		leaseID := uuid.NewString()
		leasedEnvelope := *cur.envelope
		leasedEnvelope.Status = model.EnvelopeInFlight
		leasedEnvelope.LeaseID = leaseID
		leasedEnvelope.VisibleAfter = now.Add(q.visibilityTimeout)
		next := &slot{envelope: &leasedEnvelope}

		if q.slots[i].CompareAndSwap(cur, next) {
			return &model.Lease{
				ID:         leaseID,
				EnvelopeID: leasedEnvelope.ID,
				Envelope:   &leasedEnvelope,
				LeasedAt:   now,
				ExpiresAt:  leasedEnvelope.VisibleAfter,
				NodeID:     q.nodeID,
			}
		}
		// Lost the race; another consumer (or the sweeper) claimed it.
	}
	return nil
}

// Complete removes the envelope with the matching lease id if it is still
// in-flight. Idempotent: a no-op if the envelope is already gone.
func (q *Queue) Complete(leaseID string) {
	for i := range q.slots {
		cur := q.slots[i].Load()
		if cur == nil || cur.envelope.Status != model.EnvelopeInFlight || cur.envelope.LeaseID != leaseID {
			continue
		}
		if q.slots[i].CompareAndSwap(cur, nil) {
			return
		}
	}
}

// Abandon is the explicit failure path: while the envelope has retries left
// it increments the retry count and re-queues the envelope (with a bounded
// exponential backoff); once max retries are used up it moves it to the
// dead-letter sink.
func (q *Queue) Abandon(leaseID string, causeErr error) model.AbandonOutcome {
	for i := range q.slots {
		cur := q.slots[i].Load()
		if cur == nil || cur.envelope.Status != model.EnvelopeInFlight || cur.envelope.LeaseID != leaseID {
			continue
		}
		outcome, next := q.nextAfterAbandon(cur.envelope, causeErr)
		if !q.slots[i].CompareAndSwap(cur, next) {
			// Contention: the sweeper and the lease holder raced. Rescan.
			return q.Abandon(leaseID, causeErr)
		}
		if outcome == model.OutcomeRetried {
			q.signal()
		}
		return outcome
	}
	return model.OutcomeDeadLettered
}

func (q *Queue) nextAfterAbandon(envelope *model.Envelope, causeErr error) (model.AbandonOutcome, *slot) {
	retried := *envelope
	if causeErr != nil {
		retried.LastError = causeErr.Error()
	}

	if retried.Retry < q.maxRetries {
		retried.Retry++
		retried.Status = model.EnvelopeReady
		retried.LeaseID = ""
		retried.VisibleAfter = time.Now().Add(backoff(retried.Retry))
		return model.OutcomeRetried, &slot{envelope: &retried}
	}

	retried.Status = model.EnvelopeSuperseded
	retried.DeadLetterReason = "max retries exceeded"
	if q.deadLetters != nil {
		q.deadLetters.DeadLetter(model.DeadLetterEntry{
			NodeID:          q.nodeID,
			Envelope:        &retried,
			OriginalEnqueue: envelope.EnqueueTime,
			DeadLetterTime:  time.Now(),
			FinalRetryCount: retried.Retry,
			Reason:          retried.DeadLetterReason,
			LastError:       retried.LastError,
		})
	}
	return model.OutcomeDeadLettered, nil
}

// backoff computes a bounded exponential delay: 2^retry * 100ms, capped at
// 30s.
func backoff(retry int) time.Duration {
	d := time.Duration(uint64(1)<<uint(retry)) * 100 * time.Millisecond
	const cap = 30 * time.Second
	if d > cap {
		return cap
	}
	return d
}

// SweepExpired locates in-flight envelopes whose visibility has elapsed and
// abandons each via the same path as Abandon — recovering leases leaked by
// a consumer that crashed without completing or abandoning.
func (q *Queue) SweepExpired() int {
	now := time.Now()
	count := 0
	for i := range q.slots {
		cur := q.slots[i].Load()
		if cur == nil || cur.envelope.Status != model.EnvelopeInFlight {
			continue
		}
		if cur.envelope.VisibleAfter.After(now) {
			continue
		}
		leaseID := cur.envelope.LeaseID
		q.Abandon(leaseID, fmt.Errorf("lease expired before completion"))
		count++
	}
	return count
}
