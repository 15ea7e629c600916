package readback

import "errors"

// Readback errors. Operations wrap these with additional context;
// use errors.Is to test for a kind.
var (
	// ErrInvalidArgument is returned by Submit when the destination buffer
	// length does not equal width × height × BytesPerPixel of the source
	// image, or the source image has no pixels.
	ErrInvalidArgument = errors.New("readback: invalid argument")

	// ErrTimeout is returned by Request.Get when the timeout elapses before
	// the request completes. The request stays pending and may be retrieved
	// again later.
	ErrTimeout = errors.New("readback: timed out waiting for transfer")

	// ErrCancelled is returned by Request.Get for a cancelled request.
	ErrCancelled = errors.New("readback: request cancelled")

	// ErrNativeSync is returned when the native fence primitive reports a
	// driver-level failure rather than success or timeout. The failure is
	// fatal to that request; its resources are reclaimed on the next Drain.
	ErrNativeSync = errors.New("readback: native fence synchronization failed")

	// ErrWrongThread is returned by Submit, Drain and Close when they are
	// called from a thread other than the coordinator's driver thread.
	ErrWrongThread = errors.New("readback: called off the driver thread")

	// ErrClosed is returned by operations on a closed Coordinator or DriverLoop.
	ErrClosed = errors.New("readback: coordinator closed")
)
