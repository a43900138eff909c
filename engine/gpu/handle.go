// Package gpu implements the per-context GPU resource command queue.
//
// Any goroutine may construct, mutate and dispose GPU-backed objects. Those
// calls never touch the native graphics API; they record events on the owning
// Context's Queue. Exactly one goroutine, the context thread, drains the queue
// once per frame and dispatches each event on its object, which is the only
// place native calls happen.
package gpu

import "strconv"

// Handle is an opaque identifier assigned by the Device when an object's
// Create event is dispatched. It is InvalidHandle before that point and after
// the object's Dispose event has been dispatched.
type Handle uint64

// InvalidHandle is the zero Handle. Devices never hand it out.
const InvalidHandle Handle = 0

// Valid reports whether h refers to a live native resource.
func (h Handle) Valid() bool {
	return h != InvalidHandle
}

func (h Handle) String() string {
	if h == InvalidHandle {
		return "invalid"
	}
	return "#" + strconv.FormatUint(uint64(h), 10)
}
