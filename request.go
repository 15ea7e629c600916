package readback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is one asynchronous image-to-CPU transfer created by
// Coordinator.Submit.
//
// A Request is pending until the driver thread observes its fence and
// copies the staging buffer into the destination, at which point it is
// completed. Cancel moves a pending request to cancelled instead. Both
// transitions are one-way and exactly one of pending, completed and
// cancelled holds at any time.
//
// Get, Wait, Cancel, IsDone, IsCancelled and Waiters are safe for
// concurrent use from any goroutine.
type Request struct {
	id     uuid.UUID
	coord  *Coordinator
	width  int
	height int
	dst    []byte

	// Owned by the driver thread. Cleared when the request is reclaimed.
	fence Fence
	buf   *TransferBuffer

	// mu guards the fields below. done is closed exactly once, under mu,
	// on the transition out of pending; waiters block on it as on a
	// condition variable broadcast.
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	cancelled bool
	copying   bool
	cause     error // set together with cancelled when the fence failed
	waiters   int
}

func newRequest(c *Coordinator, width, height int, dst []byte, buf *TransferBuffer, fence Fence) *Request {
	return &Request{
		id:     uuid.New(),
		coord:  c,
		width:  width,
		height: height,
		dst:    dst,
		fence:  fence,
		buf:    buf,
		done:   make(chan struct{}),
	}
}

// ID returns a unique identifier for log correlation.
func (r *Request) ID() uuid.UUID { return r.id }

// Size returns the source image dimensions.
func (r *Request) Size() (width, height int) { return r.width, r.height }

// IsDone reports whether the destination buffer holds the transferred data.
// A cancelled or failed request is never done.
func (r *Request) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// IsCancelled reports whether the request was cancelled, either by Cancel
// or because its native fence failed.
func (r *Request) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Waiters returns the number of goroutines currently blocked in Get or
// Wait on this request from off the driver thread.
func (r *Request) Waiters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiters
}

// Cancel cancels a pending request and wakes every waiter. It returns
// false if the request already completed, or if the driver thread has
// already started copying its data: such a request still completes.
//
// The staging buffer and fence are reclaimed on the next Drain.
func (r *Request) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed || r.copying {
		return false
	}
	if !r.cancelled {
		r.cancelled = true
		close(r.done)
		r.coord.stats.cancelled.Inc()
		Logger().Debug("readback: request cancelled", "id", r.id)
	}
	return true
}

// Get returns the destination buffer once the transfer has completed.
//
// Called on the driver thread, Get waits directly on the native fence
// with a flush, bypassing Drain. The driver thread is blocked inside the
// native wait for up to timeout, so callers must not hold any lock that
// the driver's own command submission path needs.
//
// Called on any other goroutine, Get never touches the GPU: it blocks
// until a Drain on the driver thread completes or cancels the request,
// or timeout elapses. If nothing ever calls Drain, Get waits for the
// full timeout (or forever with NoTimeout).
//
// NoTimeout is the only negative timeout accepted; any other negative
// value fails with ErrInvalidArgument.
//
// Get returns ErrTimeout, ErrCancelled, or ErrNativeSync (wrapped) on
// failure. A timed-out request remains pending and may be retrieved again.
func (r *Request) Get(timeout time.Duration) ([]byte, error) {
	if timeout < 0 && timeout != NoTimeout {
		return nil, fmt.Errorf("%w: timeout %v", ErrInvalidArgument, timeout)
	}
	if r.coord.OnDriverThread() {
		return r.coord.getOnDriver(r, timeout)
	}

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	return r.await(nil, timer)
}

// Wait is Get for goroutines other than the driver thread, bounded by ctx
// instead of a timeout. A ctx deadline is reported as ErrTimeout; an
// explicit ctx cancellation returns ctx.Err().
func (r *Request) Wait(ctx context.Context) ([]byte, error) {
	data, err := r.await(ctx.Done(), nil)
	if errors.Is(err, errWaitAborted) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.coord.stats.timeouts.Inc()
			return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
	return data, err
}

// errWaitAborted reports that await returned because abort fired.
var errWaitAborted = errors.New("readback: wait aborted")

// await blocks until the request leaves pending, timer fires, or abort
// is closed. Nil channels never fire, so await(nil, nil) waits forever.
// The waiter count is raised for the duration of the wait.
func (r *Request) await(abort <-chan struct{}, timer <-chan time.Time) ([]byte, error) {
	r.mu.Lock()
	if data, err, ok := r.resultLocked(); ok {
		r.mu.Unlock()
		return data, err
	}
	r.waiters++
	done := r.done
	r.mu.Unlock()

	var aborted bool
	select {
	case <-done:
	case <-timer:
	case <-abort:
		aborted = true
	}

	r.mu.Lock()
	r.waiters--
	data, err, ok := r.resultLocked()
	r.mu.Unlock()
	switch {
	case ok:
		return data, err
	case aborted:
		return nil, errWaitAborted
	default:
		r.coord.stats.timeouts.Inc()
		return nil, ErrTimeout
	}
}

// resultLocked returns the terminal outcome, or ok=false while pending.
// r.mu must be held.
func (r *Request) resultLocked() (data []byte, err error, ok bool) {
	switch {
	case r.completed:
		return r.dst, nil, true
	case r.cancelled && r.cause != nil:
		return nil, r.cause, true
	case r.cancelled:
		return nil, ErrCancelled, true
	default:
		return nil, nil, false
	}
}

// terminal reports whether the request has left pending.
func (r *Request) terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed || r.cancelled
}

// beginCopy re-checks cancellation immediately before the staging copy.
// Once it returns true, Cancel returns false until finishCopy runs.
func (r *Request) beginCopy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed || r.cancelled {
		return false
	}
	r.copying = true
	return true
}

// finishCopy marks the request completed and wakes every waiter.
func (r *Request) finishCopy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copying = false
	r.completed = true
	close(r.done)
}

// fail cancels the request with cause and wakes every waiter. A request
// that already left pending is left untouched.
func (r *Request) fail(cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copying = false
	if r.completed || r.cancelled {
		return false
	}
	r.cancelled = true
	r.cause = cause
	close(r.done)
	return true
}
