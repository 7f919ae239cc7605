package patch

import (
	"fmt"
	"math"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/dudk/patch/signal"
)

// DiagnosticKind identifies a render-tier fault class.
type DiagnosticKind int

const (
	// NodeFault means a node violated its processing contract. Its
	// output was replaced with silence and the block completed.
	NodeFault DiagnosticKind = iota
	// BlockOverrun means a block exceeded its deadline. Soft: the block
	// still completed and its output was delivered.
	BlockOverrun
	// EventsDropped means the parameter event queue overflowed and
	// changes were lost.
	EventsDropped
)

// Diagnostic is an out-of-band render fault report. Delivery is best
// effort: the render path never blocks on the diagnostics channel.
type Diagnostic struct {
	Kind     DiagnosticKind
	Node     NodeID
	Position int64
	Err      error
}

// Render produces one block of output. It is the callback handed to the
// playback backend and runs on whatever goroutine the backend drives,
// exactly once per block. The only synchronization it performs is a
// single atomic load of the latest bundle; it never allocates, locks or
// blocks.
func (e *Engine) Render(in, out signal.Float64) {
	start := time.Now()
	b := e.handoff.latest()
	if b == nil {
		out.Clear()
		return
	}
	if b != e.adopted {
		if b.seekSeq != e.adoptedSeek {
			e.transport.seek(b.seekPos)
			e.adoptedSeek = b.seekSeq
		}
		e.adopted = b
	}

	pos := e.transport.Position()
	e.drainEvents(b, pos)

	e.curIn = in
	e.curOut = out
	out.Clear()
	for i := range b.schedule.steps {
		e.runStep(b, i, pos)
	}
	for _, c := range b.schedule.epilogue {
		b.pool.Slot(c.to).CopyFrom(b.pool.Slot(c.from))
	}
	e.curIn = nil
	e.curOut = nil

	e.transport.advance()
	elapsed := time.Since(start)
	e.meter.Block(b.blockSize, elapsed)
	if elapsed > b.blockDeadline {
		e.meter.Overrun()
		e.report(Diagnostic{Kind: BlockOverrun, Position: pos})
	}
}

// runStep pre-mixes summing inputs, resolves parameters and executes one
// node with fault containment: a panic or a non-finite output silences
// this node's buffers for the block and the schedule continues.
func (e *Engine) runStep(b *Bundle, i int, pos int64) {
	s := &b.schedule.steps[i]

	for pi, mix := range s.mix {
		if mix == nil {
			continue
		}
		dst := s.inBufs[pi]
		first := b.pool.Slot(mix[0])
		for ch := range dst {
			copy(dst[ch], first[ch])
		}
		for _, slot := range mix[1:] {
			src := b.pool.Slot(slot)
			for ch := range dst {
				vecmath.AddBlockInPlace(dst[ch], src[ch])
			}
		}
	}

	for j := range s.params {
		s.resolved[j] = s.params[j].value
	}

	err := process(s, Block{
		Input:      s.inBufs,
		Output:     s.outBufs,
		Params:     s.resolved,
		Position:   pos,
		SampleRate: b.sampleRate,
	})
	if err == nil && !finite(s.outBufs) {
		err = errNonFinite
	}
	if err != nil {
		for _, buf := range s.outBufs {
			buf.Clear()
		}
		e.meter.Fault()
		e.report(Diagnostic{Kind: NodeFault, Node: s.node, Position: pos, Err: err})
	}

	for j := range s.params {
		s.params[j].advance(b.blockSize)
	}
}

var errNonFinite = fmt.Errorf("%w: non-finite samples", errContract)
var errContract = fmt.Errorf("processing contract violated")

// process guards a single Process call: a panic is contained and turned
// into a node fault.
func process(s *step, blk Block) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errContract, r)
		}
	}()
	return s.proc.Process(blk)
}

// finite reports whether all samples are finite numbers.
func finite(bufs []signal.Float64) bool {
	for _, buf := range bufs {
		for _, ch := range buf {
			for _, v := range ch {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
	}
	return true
}

// drainEvents empties the parameter queue and applies events in timestamp
// order against the adopted bundle. The scratch buffer is preallocated to
// the ring capacity, so draining does not allocate.
func (e *Engine) drainEvents(b *Bundle, pos int64) {
	n := 0
	for n < len(e.evScratch) {
		ev, ok := e.ring.Pop()
		if !ok {
			break
		}
		// insertion sort by timestamp keeps application order stable
		j := n
		for j > 0 && e.evScratch[j-1].At > ev.At {
			e.evScratch[j] = e.evScratch[j-1]
			j--
		}
		e.evScratch[j] = ev
		n++
	}
	for i := 0; i < n; i++ {
		ev := e.evScratch[i]
		si, ok := b.schedule.byNode[NodeID(ev.Node)]
		if !ok {
			continue
		}
		s := &b.schedule.steps[si]
		if ev.Param < 0 || int(ev.Param) >= len(s.params) {
			continue
		}
		if ev.Ramp > 0 {
			s.params[ev.Param].ramp(ev.Value, int(ev.Ramp))
		} else {
			s.params[ev.Param].set(ev.Value)
		}
	}
	if dropped := e.ring.Dropped(); dropped > e.droppedSeen {
		e.droppedSeen = dropped
		e.report(Diagnostic{Kind: EventsDropped, Position: pos})
	}
}

// report delivers a diagnostic without ever blocking the render path.
func (e *Engine) report(d Diagnostic) {
	select {
	case e.diag <- d:
	default:
	}
}
