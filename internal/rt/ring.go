/*
Package rt holds the real-time safe primitives shared by the control and
render sides of an engine.
*/
package rt

import (
	"sync/atomic"
)

// Event is a sample-accurate parameter change travelling from the control
// side to the render side.
type Event struct {
	// Node is the target node identity.
	Node uint64
	// Param is the parameter index in the node's declaration order.
	Param int32
	// Ramp is the ramp length in samples; zero applies the value
	// immediately.
	Ramp int32
	// At is the transport position the change was issued for. Changes
	// are applied at block rate, in At order, at the start of the
	// first block rendered after they were queued.
	At int64
	// Value is the target parameter value.
	Value float64
}

// Ring is a bounded lock-free single-producer single-consumer queue of
// events. Write and read positions are free-running; the mask is applied
// only when indexing the buffer. When the ring is full the newest event
// is dropped and counted, so the producer never blocks.
type Ring struct {
	buffer   []Event
	mask     uint32
	writePos atomic.Uint32
	readPos  atomic.Uint32
	dropped  atomic.Uint64
}

// NewRing returns a ring with capacity rounded up to a power of two.
func NewRing(capacity int) *Ring {
	size := uint32(1)
	for size < uint32(capacity) {
		size <<= 1
	}
	return &Ring{
		buffer: make([]Event, size),
		mask:   size - 1,
	}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buffer)
}

// Push appends an event. It returns false if the ring was full and the
// event was dropped.
func (r *Ring) Push(e Event) bool {
	writePos := r.writePos.Load()
	readPos := r.readPos.Load()
	// unsigned subtraction stays correct after wrap
	if writePos-readPos >= uint32(len(r.buffer)) {
		r.dropped.Add(1)
		return false
	}
	r.buffer[writePos&r.mask] = e
	r.writePos.Store(writePos + 1)
	return true
}

// Pop removes the oldest event. It returns false if the ring is empty.
func (r *Ring) Pop() (Event, bool) {
	readPos := r.readPos.Load()
	if readPos == r.writePos.Load() {
		return Event{}, false
	}
	e := r.buffer[readPos&r.mask]
	r.readPos.Store(readPos + 1)
	return e, true
}

// Dropped returns the number of events dropped on overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
