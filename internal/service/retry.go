package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/timmy/memeprep/internal/domain"
)

// RetryPolicy bounds how often one external call is attempted.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// OnRetry is called before each sleep; optional.
	OnRetry func(attempt int, err error)
}

// ExponentialBackoff waits base * 2^attempt: with a one second base, 2s after
// the first failure and 4s after the second.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	}
}

// FixedBackoff always waits d.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Retry runs fn until it succeeds, is skipped, or runs out of attempts.
// A cancelled context ends the loop with a fatal outcome.
// Parameters:
//   - ctx: context checked after every failure and during sleeps.
//   - policy: attempt bound and backoff.
//   - fn: the call; receives the 1-based attempt number.
// Returns:
//   - domain.Outcome: Succeeded, Skipped, Retryable (attempts exhausted) or Fatal (cancelled).
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) domain.Outcome {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		switch domain.Classify(err) {
		case domain.OutcomeSucceeded:
			return domain.Outcome{Kind: domain.OutcomeSucceeded, Attempts: attempt}
		case domain.OutcomeSkipped:
			return domain.Outcome{Kind: domain.OutcomeSkipped, Err: err, Attempts: attempt}
		}
		lastErr = err

		if ctx.Err() != nil {
			return domain.Outcome{Kind: domain.OutcomeFatal, Err: ctx.Err(), Attempts: attempt}
		}
		if attempt == maxAttempts {
			break
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		var delay time.Duration
		if policy.Backoff != nil {
			delay = policy.Backoff(attempt)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return domain.Outcome{Kind: domain.OutcomeFatal, Err: err, Attempts: attempt}
		}
	}
	return domain.Outcome{Kind: domain.OutcomeRetryable, Err: lastErr, Attempts: maxAttempts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// QueueState is the position of one item in a RetryQueue.
type QueueState string

const (
	QueuePending   QueueState = "pending"
	QueueInRetry   QueueState = "in_retry"
	QueueSucceeded QueueState = "succeeded"
	QueueSkipped   QueueState = "skipped"
	QueueFailed    QueueState = "failed"
	QueueExhausted QueueState = "exhausted"
)

// RetryQueue tracks items across a bounded number of rounds. Round 1 covers
// every item; each later round covers only the items that failed the round
// before. Items still failing after the last round are exhausted.
type RetryQueue struct {
	maxRounds int
	round     int
	order     []int64
	states    map[int64]QueueState
}

// NewRetryQueue creates a queue over ids, keeping their order.
func NewRetryQueue(ids []int64, maxRounds int) *RetryQueue {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	q := &RetryQueue{
		maxRounds: maxRounds,
		order:     make([]int64, 0, len(ids)),
		states:    make(map[int64]QueueState, len(ids)),
	}
	for _, id := range ids {
		if _, ok := q.states[id]; ok {
			continue
		}
		q.order = append(q.order, id)
		q.states[id] = QueuePending
	}
	return q
}

// Next starts the next round and returns its items. ok is false when there is
// nothing left to do or the round limit is reached.
func (q *RetryQueue) Next() (round int, ids []int64, ok bool) {
	want := QueueInRetry
	if q.round == 0 {
		want = QueuePending
	}
	if q.round >= q.maxRounds {
		return q.round, nil, false
	}
	for _, id := range q.order {
		if q.states[id] == want {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return q.round, nil, false
	}
	q.round++
	return q.round, ids, true
}

// Mark records the outcome of one item in the current round.
func (q *RetryQueue) Mark(id int64, kind domain.OutcomeKind) {
	if _, ok := q.states[id]; !ok {
		return
	}
	switch kind {
	case domain.OutcomeSucceeded:
		q.states[id] = QueueSucceeded
	case domain.OutcomeSkipped:
		q.states[id] = QueueSkipped
	case domain.OutcomeFatal:
		q.states[id] = QueueFailed
	default:
		q.states[id] = QueueInRetry
	}
}

// Round returns the number of rounds started so far.
func (q *RetryQueue) Round() int {
	return q.round
}

// State returns the current state of id.
func (q *RetryQueue) State(id int64) QueueState {
	return q.states[id]
}

// Finish moves every item still waiting for a retry to exhausted and returns
// those ids in ascending order.
func (q *RetryQueue) Finish() []int64 {
	var exhausted []int64
	for _, id := range q.order {
		if q.states[id] == QueueInRetry || q.states[id] == QueueExhausted {
			q.states[id] = QueueExhausted
			exhausted = append(exhausted, id)
		}
	}
	sort.Slice(exhausted, func(i, j int) bool { return exhausted[i] < exhausted[j] })
	return exhausted
}

// Count returns how many items are in state s.
func (q *RetryQueue) Count(s QueueState) int {
	n := 0
	for _, st := range q.states {
		if st == s {
			n++
		}
	}
	return n
}
