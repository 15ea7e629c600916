//go:build linux

package readback

import "golang.org/x/sys/unix"

// currentThreadID returns the kernel thread ID of the calling OS thread.
func currentThreadID() uint64 {
	return uint64(unix.Gettid()) //nolint:gosec // thread IDs are positive
}
