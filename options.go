package readback

// Option configures a Coordinator during creation.
//
// Example:
//
//	// Default: bound to the calling thread, thread checks on, flush hint on.
//	c := readback.NewCoordinator(dev)
//
//	// Tests that drive the coordinator from several goroutines:
//	c := readback.NewCoordinator(dev, readback.WithThreadCheck(false))
type Option func(*options)

// options holds optional configuration for Coordinator creation.
type options struct {
	threadID    func() uint64
	threadCheck bool
	flushHint   bool
}

// defaultOptions returns the default coordinator options.
func defaultOptions() options {
	return options{
		threadID:    currentThreadID,
		threadCheck: true,
		flushHint:   true,
	}
}

// WithThreadCheck enables or disables the driver-thread assertion in
// Submit, Drain and Close. With the check disabled those calls are
// accepted from any goroutine, and the caller is responsible for never
// issuing them concurrently.
func WithThreadCheck(enabled bool) Option {
	return func(o *options) {
		o.threadCheck = enabled
	}
}

// WithFlushHint controls whether Drain asks the driver to flush when
// polling the fence of a request that has goroutines blocked in Get.
// Enabled by default.
func WithFlushHint(enabled bool) Option {
	return func(o *options) {
		o.flushHint = enabled
	}
}

// WithThreadID replaces the function that identifies the calling thread.
// The coordinator records its result at construction as the driver thread
// and compares against it on every thread-sensitive call. The default
// uses the OS thread ID, so the driver goroutine must stay pinned with
// runtime.LockOSThread.
func WithThreadID(fn func() uint64) Option {
	return func(o *options) {
		if fn != nil {
			o.threadID = fn
		}
	}
}
