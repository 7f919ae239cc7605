package patch

import (
	"sync/atomic"
	"time"

	"github.com/dudk/patch/pool"
	"github.com/dudk/patch/signal"
	"github.com/rs/xid"
)

type (
	// Bundle is the immutable unit exchanged with the render path: a
	// schedule, the buffer pool it was compiled against and a transport
	// snapshot. A bundle is superseded as a whole; the render path never
	// observes a half-updated one.
	Bundle struct {
		id       string
		schedule *Schedule
		pool     *pool.Pool

		sampleRate    int
		blockSize     int
		tempo         float64
		blockDeadline time.Duration

		// seek request carried with the bundle; applied exactly once,
		// at adoption, when the sequence moves forward.
		seekSeq uint64
		seekPos int64
	}

	// handoff is a single-slot, single-writer single-reader exchange of
	// bundles. The control side publishes at most one latest bundle; a
	// newer publication supersedes a not-yet-adopted older one. The
	// render side loads the slot exactly once per block.
	handoff struct {
		slot atomic.Pointer[Bundle]
	}
)

// newBundle pairs a compiled schedule and pool with a transport snapshot.
func newBundle(s *Schedule, p *pool.Pool, sampleRate, blockSize int, tempo float64) *Bundle {
	return &Bundle{
		id:            xid.New().String(),
		schedule:      s,
		pool:          p,
		sampleRate:    sampleRate,
		blockSize:     blockSize,
		tempo:         tempo,
		blockDeadline: signal.DurationOf(sampleRate, int64(blockSize)),
	}
}

// withSeek returns a copy of the bundle carrying a seek request. The
// schedule and pool are shared: only the transport snapshot changes.
func (b *Bundle) withSeek(seq uint64, pos int64) *Bundle {
	cp := *b
	cp.seekSeq = seq
	cp.seekPos = pos
	return &cp
}

// publish makes the bundle the latest one. Control side only.
func (h *handoff) publish(b *Bundle) {
	h.slot.Store(b)
}

// latest returns the most recently published bundle, or nil before the
// first publication. Render side, non-blocking.
func (h *handoff) latest() *Bundle {
	return h.slot.Load()
}
