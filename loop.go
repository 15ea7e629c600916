package readback

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/gogpu/gpucontext"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// DefaultFrameRate is the Drain rate used when NewDriverLoop is given a
// non-positive frame rate.
const DefaultFrameRate = 60

// ErrLoopRunning is returned by Run when the loop was already started.
var ErrLoopRunning = errors.New("readback: driver loop already running")

// DriverLoop owns a driver thread. Run pins itself to an OS thread,
// creates the Coordinator there and then, once per frame, drains it.
// Other goroutines reach the coordinator through Do and Submit, which
// execute on the driver thread between frames.
//
// Example:
//
//	loop := readback.NewDriverLoop(60)
//	go loop.Run(ctx, dev)
//
//	req, err := loop.Submit(ctx, img, dst)
//	if err != nil {
//	    return err
//	}
//	pixels, err := req.Get(time.Second)
type DriverLoop struct {
	limiter *rate.Limiter
	tasks   chan task
	ready   chan struct{}
	done    chan struct{}

	started atomic.Bool
	coord   atomic.Pointer[Coordinator]
}

type task struct {
	fn   func(*Coordinator) error
	errc chan error
}

// NewDriverLoop creates a loop that drains frameRate times per second.
func NewDriverLoop(frameRate float64) *DriverLoop {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &DriverLoop{
		limiter: rate.NewLimiter(rate.Limit(frameRate), 1),
		tasks:   make(chan task),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run binds the calling goroutine to its OS thread, creates the
// Coordinator on it and serves frames until ctx is done. On exit the
// coordinator is closed and its error returned.
func (l *DriverLoop) Run(ctx context.Context, dev Device, opts ...Option) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	c := NewCoordinator(dev, opts...)
	l.coord.Store(c)
	close(l.ready)
	Logger().Info("readback: driver loop started", "rate", float64(l.limiter.Limit()))

	for {
		res := l.limiter.Reserve()
		timer := time.NewTimer(res.Delay())
		if !l.serve(ctx, c, timer.C) {
			timer.Stop()
			break
		}
		if err := c.Drain(); err != nil {
			Logger().Warn("readback: drain failed", "err", err)
		}
	}

	err := c.Close()
	Logger().Info("readback: driver loop stopped", "stats", c.Stats().String())
	return err
}

// serve runs posted tasks until the next frame is due. It returns false
// once ctx is done.
func (l *DriverLoop) serve(ctx context.Context, c *Coordinator, frame <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case t := <-l.tasks:
			t.errc <- t.fn(c)
		case <-frame:
			return true
		}
	}
}

// Do runs fn on the driver thread and returns its error. It blocks until
// the loop has started and fn has run, ctx is done, or the loop stopped.
func (l *DriverLoop) Do(ctx context.Context, fn func(*Coordinator) error) error {
	t := task{fn: fn, errc: make(chan error, 1)}
	select {
	case l.tasks <- t:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-t.errc
}

// Submit posts a Coordinator.Submit to the driver thread.
func (l *DriverLoop) Submit(ctx context.Context, src gpucontext.Texture, dst []byte) (*Request, error) {
	var r *Request
	err := l.Do(ctx, func(c *Coordinator) error {
		var err error
		r, err = c.Submit(src, dst)
		return err
	})
	return r, err
}

// Ready is closed once Run has created the coordinator.
func (l *DriverLoop) Ready() <-chan struct{} { return l.ready }

// Done is closed once Run has returned.
func (l *DriverLoop) Done() <-chan struct{} { return l.done }

// Coordinator returns the coordinator created by Run, or nil before the
// loop started. Only its goroutine-safe methods may be called off the
// driver thread.
func (l *DriverLoop) Coordinator() *Coordinator { return l.coord.Load() }

// Stats returns the coordinator stats, or zero stats before the loop
// started.
func (l *DriverLoop) Stats() Stats {
	if c := l.coord.Load(); c != nil {
		return c.Stats()
	}
	return Stats{}
}
