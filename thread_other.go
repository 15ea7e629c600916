//go:build !linux && !windows

package readback

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThreadID has no portable OS thread ID to use here, so it falls
// back to the goroutine ID. A driver goroutine pinned with
// runtime.LockOSThread is the only goroutine on its thread, which makes
// the two equivalent for the driver check.
func currentThreadID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]: ..."
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, _ := strconv.ParseUint(string(field), 10, 64)
	return id
}
