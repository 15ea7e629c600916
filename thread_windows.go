//go:build windows

package readback

import "golang.org/x/sys/windows"

// currentThreadID returns the Win32 thread ID of the calling OS thread.
func currentThreadID() uint64 {
	return uint64(windows.GetCurrentThreadId())
}
