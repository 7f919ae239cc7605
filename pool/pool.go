/*
Package pool provides a pre-sized arena of sample buffers addressed by
slot index.

A pool is built once per compiled schedule and replaced together with it.
The render path only ever reads and writes slots; it never allocates,
frees or resizes them.
*/
package pool

import (
	"github.com/dudk/patch/signal"
)

// Pool is a fixed arena of per-slot buffers. Slots may differ in channel
// count, all share one block size.
type Pool struct {
	blockSize int
	slots     []signal.Float64
}

// New allocates a pool with one buffer per provided slot width.
func New(blockSize int, widths []int) *Pool {
	slots := make([]signal.Float64, len(widths))
	for i, w := range widths {
		slots[i] = signal.EmptyFloat64(w, blockSize)
	}
	return &Pool{
		blockSize: blockSize,
		slots:     slots,
	}
}

// Slot returns the buffer bound to the index.
func (p *Pool) Slot(i int) signal.Float64 {
	return p.slots[i]
}

// Len returns the number of slots.
func (p *Pool) Len() int {
	return len(p.slots)
}

// BlockSize returns the per-channel buffer length.
func (p *Pool) BlockSize() int {
	return p.blockSize
}
