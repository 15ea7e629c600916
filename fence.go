package readback

import "fmt"

// FenceKind identifies how a backend represents a fence.
type FenceKind uint8

const (
	// FenceNone is the zero Fence. It marks a request whose fence has
	// already been deleted.
	FenceNone FenceKind = iota

	// FenceHandle is an opaque native object (a GL sync object, a HAL fence).
	FenceHandle

	// FenceIndex is a monotonically increasing queue submission index.
	// The fence is signaled once the queue reports that index as completed.
	FenceIndex
)

// String returns the string representation of FenceKind.
func (k FenceKind) String() string {
	switch k {
	case FenceNone:
		return "None"
	case FenceHandle:
		return "Handle"
	case FenceIndex:
		return "Index"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Fence is a GPU-side synchronization point inserted into the command
// stream after a staging copy. Backends differ in how they name a fence,
// so Fence is a small tagged variant rather than a raw pointer: the
// Coordinator only moves fences between the Device calls that created
// them and never looks inside.
type Fence struct {
	kind   FenceKind
	handle any
	index  uint64
}

// HandleFence wraps an opaque native fence object.
func HandleFence(h any) Fence {
	return Fence{kind: FenceHandle, handle: h}
}

// IndexFence wraps a queue submission index.
func IndexFence(index uint64) Fence {
	return Fence{kind: FenceIndex, index: index}
}

// Kind reports the fence representation.
func (f Fence) Kind() FenceKind { return f.kind }

// Handle returns the native object of a FenceHandle fence, or nil.
func (f Fence) Handle() any { return f.handle }

// Index returns the submission index of a FenceIndex fence, or 0.
func (f Fence) Index() uint64 { return f.index }

// IsZero reports whether f is the zero Fence.
func (f Fence) IsZero() bool { return f.kind == FenceNone }

// String returns a short description of the fence for logging.
func (f Fence) String() string {
	switch f.kind {
	case FenceHandle:
		return fmt.Sprintf("Fence(handle %p)", f.handle)
	case FenceIndex:
		return fmt.Sprintf("Fence(index %d)", f.index)
	default:
		return "Fence(none)"
	}
}
