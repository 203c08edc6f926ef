package dispatch

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// operation is one in-flight sink operation.
type operation struct {
	done chan struct{}
	err  error
}

func (o *operation) finished() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Tracker is the FIFO of in-flight operations, oldest first. It is owned by
// the producer goroutine; only the operations themselves run elsewhere.
type Tracker struct {
	pending   []*operation
	completed int64
	failed    int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Submit runs fn on its own goroutine and appends it to the FIFO.
func (t *Tracker) Submit(fn func() error) {
	op := &operation{done: make(chan struct{})}
	t.pending = append(t.pending, op)
	go func() {
		defer close(op.done)
		op.err = fn()
	}()
}

// Pending returns the number of operations not yet reaped.
func (t *Tracker) Pending() int {
	return len(t.pending)
}

// Completed returns the number of reaped operations, failed ones included.
func (t *Tracker) Completed() int64 {
	return t.completed
}

// Failed returns the number of reaped operations that returned an error.
func (t *Tracker) Failed() int64 {
	return t.failed
}

// pop removes the head, which must have finished, and returns its error.
func (t *Tracker) pop() error {
	op := t.pending[0]
	t.pending[0] = nil
	t.pending = t.pending[1:]
	t.completed++
	if op.err != nil {
		t.failed++
	}
	return op.err
}

// Reap removes finished operations from the head of the FIFO without
// blocking and returns how many it removed. An unfinished head stops the
// scan even if later operations are done.
func (t *Tracker) Reap() int {
	n := 0
	for len(t.pending) > 0 && t.pending[0].finished() {
		_ = t.pop()
		n++
	}
	return n
}

// AwaitOldest blocks until the oldest operation finishes and reaps it. The
// operation's own error is counted, not returned; only ctx ends the wait
// early.
func (t *Tracker) AwaitOldest(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}
	select {
	case <-t.pending[0].done:
		_ = t.pop()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits for every pending operation in order. Operation failures are
// returned together as a shutdown error; if ctx ends first the abandoned
// operations are reported too.
func (t *Tracker) Drain(ctx context.Context) error {
	var result *multierror.Error
	for len(t.pending) > 0 {
		select {
		case <-t.pending[0].done:
			if err := t.pop(); err != nil {
				result = multierror.Append(result, err)
			}
		case <-ctx.Done():
			result = multierror.Append(result,
				fmt.Errorf("%d operations still in flight: %w", len(t.pending), ctx.Err()))
			return errors.Wrap(result, errors.ErrorTypeShutdown, "drain incomplete")
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeShutdown, fmt.Sprintf("%d operations failed during drain", result.Len())).
			WithDetail("failed", result.Len())
	}
	return nil
}
