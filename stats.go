package readback

import (
	"fmt"

	"go.uber.org/atomic"
)

// Stats contains coordinator counters.
type Stats struct {
	// Submitted is the total number of requests accepted by Submit.
	Submitted uint64

	// Completed is the number of requests whose data was delivered.
	Completed uint64

	// Cancelled is the number of successful Cancel calls.
	Cancelled uint64

	// Failed is the number of requests lost to a native fence failure.
	Failed uint64

	// Timeouts is the number of Get or Wait calls that timed out.
	Timeouts uint64

	// Pending is the number of requests still in the queue, including
	// terminal requests waiting to be reclaimed by the next Drain.
	Pending int

	// Pool holds the staging buffer pool counters.
	Pool PoolStats
}

// String returns a human-readable string of coordinator stats.
func (s Stats) String() string {
	return fmt.Sprintf("Readback[%d submitted, %d completed, %d cancelled, %d failed, %d timeouts, %d pending] %s",
		s.Submitted, s.Completed, s.Cancelled, s.Failed, s.Timeouts, s.Pending, s.Pool)
}

// counters are updated from the driver thread and from waiters.
type counters struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	cancelled atomic.Uint64
	failed    atomic.Uint64
	timeouts  atomic.Uint64
	pending   atomic.Int64
}
