// Package correlate matches asynchronous responses arriving on a shared
// stream with the requests that caused them. A caller registers interest in a
// correlation id before sending its request, then blocks until a matching
// response is resolved or the window elapses. Every pending request completes
// exactly once.
package correlate

import (
	"context"
	"fmt"
	"time"

	"sync"

	"github.com/google/uuid"
)

// DefaultTimeout is the response window used when none is given.
const DefaultTimeout = 5 * time.Second

var (
	ErrTimeout     = fmt.Errorf("timed out waiting for response")
	ErrDuplicateID = fmt.Errorf("correlation id already pending")
	ErrCanceled    = fmt.Errorf("wait canceled")
)

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// Correlator tracks in-flight requests keyed by correlation id. The zero
// value is not usable, use New.
type Correlator[T any] struct {
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan T
}

func New[T any](timeout time.Duration) *Correlator[T] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator[T]{
		timeout: timeout,
		waiters: make(map[string]chan T),
	}
}

// Expect registers interest in the given id. It must be called before the
// request is sent so that a fast responder cannot race the registration. The
// id stays reserved until the returned Waiter completes.
func (c *Correlator[T]) Expect(id string) (*Waiter[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.waiters[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	ch := make(chan T, 1)
	c.waiters[id] = ch
	return &Waiter[T]{correlator: c, id: id, ch: ch, timeout: c.timeout}, nil
}

// Resolve hands a response to the waiter registered for id, if any. It
// reports whether the response was claimed; unmatched responses are the
// caller's to drop.
func (c *Correlator[T]) Resolve(id string, response T) bool {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- response
	return true
}

// Pending returns the number of in-flight waiters.
func (c *Correlator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Correlator[T]) drop(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

// Waiter is one registered expectation. Wait or Cancel must be called to
// release the id.
type Waiter[T any] struct {
	correlator *Correlator[T]
	id         string
	ch         chan T
	timeout    time.Duration
}

// Wait blocks until the matching response arrives, the window elapses, or
// ctx is done. A response that wins the race against the deadline is still
// returned.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case response := <-w.ch:
		return response, nil
	case <-ctx.Done():
		return w.finish(ctx.Err())
	case <-timer.C:
		return w.finish(ErrTimeout)
	}
}

// Cancel releases the id without waiting. A response already claimed by
// Resolve is dropped.
func (w *Waiter[T]) Cancel() {
	w.correlator.drop(w.id)
}

// finish removes the waiter and performs a last non-blocking receive: if the
// response was resolved concurrently with the deadline, the match wins.
func (w *Waiter[T]) finish(cause error) (T, error) {
	w.correlator.drop(w.id)
	select {
	case response := <-w.ch:
		return response, nil
	default:
		var zero T
		return zero, cause
	}
}
