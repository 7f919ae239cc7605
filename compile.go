package patch

import (
	"container/heap"
	"sort"

	"github.com/dudk/patch/pool"
	"github.com/dudk/patch/signal"
)

type (
	// step executes one node of a schedule.
	step struct {
		node NodeID
		proc Processor

		// in holds one slot per input port, presented to the processor.
		// mix lists the slots pre-summed into in; a nil entry means in
		// aliases a producer slot, a delay slot or the silence slot.
		in  []int
		mix [][]int
		// out holds one slot per output port.
		out []int

		// buffer views bound to the pool, resolved once at compile.
		inBufs  []signal.Float64
		outBufs []signal.Float64

		// render-side parameter state and per-block scratch.
		params   []paramState
		resolved []float64
	}

	// copyStep duplicates a produced slot into a persistent delay slot
	// in the end-of-block epilogue. A delay consumer therefore always
	// reads the previous block's output, wherever it is scheduled.
	copyStep struct {
		from, to int
	}

	// Schedule is an ordered, cycle-safe execution plan compiled from
	// one graph snapshot. Its topology is immutable once built; only the
	// parameter state embedded in its steps moves at render time.
	Schedule struct {
		steps    []step
		epilogue []copyStep
		byNode   map[NodeID]int
		widths   []int
	}
)

// Order returns node identities in execution order.
func (s *Schedule) Order() []NodeID {
	order := make([]NodeID, len(s.steps))
	for i := range s.steps {
		order[i] = s.steps[i].node
	}
	return order
}

// Slots returns the total buffer slot count of the schedule.
func (s *Schedule) Slots() int {
	return len(s.widths)
}

// nodeIDHeap is a min-heap of node identities used for deterministic
// tie-breaking during ordering.
type nodeIDHeap []NodeID

func (h nodeIDHeap) Len() int            { return len(h) }
func (h nodeIDHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h nodeIDHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeIDHeap) Push(x interface{}) { *h = append(*h, x.(NodeID)) }
func (h *nodeIDHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// compile turns a graph snapshot into a schedule and a buffer pool
// layout. The schedule orders nodes over non-delay edges with ascending
// identity as tie-break, then a liveness pass assigns pool slots so that
// buffers with disjoint lifetimes share storage.
func compile(g *Graph, blockSize int) (*Schedule, *pool.Pool, error) {
	order, err := topoOrder(g)
	if err != nil {
		return nil, nil, err
	}

	stepOf := make(map[NodeID]int, len(order))
	for i, id := range order {
		stepOf[id] = i
	}

	alloc := newSlotAlloc()

	// Persistent slots first: one per delay edge plus one silence slot
	// per channel width for unconnected inputs. Persistent slots are
	// excluded from reuse.
	delaySlot := make(map[Edge]int)
	silenceSlot := make(map[int]int)
	for _, e := range g.edges {
		if !e.Delay {
			continue
		}
		w := g.nodes[e.Source.Node].spec.Outputs[e.Source.Port].Channels
		delaySlot[e] = alloc.persistent(w)
	}
	for _, id := range order {
		n := g.nodes[id]
		for pi, in := range n.spec.Inputs {
			if len(incomingTo(g, id, pi)) == 0 {
				if _, ok := silenceSlot[in.Channels]; !ok {
					silenceSlot[in.Channels] = alloc.persistent(in.Channels)
				}
			}
		}
	}

	// Death step of every produced value: last non-delay consumer, or
	// the epilogue if the value feeds a delay edge.
	death := make(map[PortRef]int)
	for i, id := range order {
		n := g.nodes[id]
		for pi := range n.spec.Outputs {
			death[PortRef{Node: id, Port: pi}] = i
		}
	}
	for _, e := range g.edges {
		d := death[e.Source]
		if e.Delay {
			d = len(order) // lives through the epilogue copy
		} else if c := stepOf[e.Dest.Node]; c > d {
			d = c
		}
		death[e.Source] = d
	}

	valueSlot := make(map[PortRef]int)
	steps := make([]step, 0, len(order))
	byNode := make(map[NodeID]int, len(order))

	for k, id := range order {
		n := g.nodes[id]
		s := step{
			node:     id,
			proc:     n.proc,
			in:       make([]int, len(n.spec.Inputs)),
			mix:      make([][]int, len(n.spec.Inputs)),
			out:      make([]int, len(n.spec.Outputs)),
			params:   make([]paramState, len(n.params)),
			resolved: make([]float64, len(n.params)),
		}
		for j, v := range n.params {
			s.params[j].set(v)
		}

		for pi, in := range n.spec.Inputs {
			sources := incomingTo(g, id, pi)
			switch len(sources) {
			case 0:
				s.in[pi] = silenceSlot[in.Channels]
			case 1:
				e := sources[0]
				if e.Delay {
					s.in[pi] = delaySlot[e]
				} else {
					s.in[pi] = valueSlot[e.Source]
				}
			default:
				// summing input: mix sources into a scratch slot
				// that lives only for this step.
				mix := alloc.acquire(in.Channels, k)
				s.in[pi] = mix
				s.mix[pi] = make([]int, 0, len(sources))
				for _, e := range sources {
					if e.Delay {
						s.mix[pi] = append(s.mix[pi], delaySlot[e])
					} else {
						s.mix[pi] = append(s.mix[pi], valueSlot[e.Source])
					}
				}
			}
		}

		for pi, out := range n.spec.Outputs {
			ref := PortRef{Node: id, Port: pi}
			slot := alloc.acquire(out.Channels, death[ref])
			s.out[pi] = slot
			valueSlot[ref] = slot
		}

		steps = append(steps, s)
		byNode[id] = k
		alloc.releaseDead(k)
	}

	// end-of-block epilogue: refresh delay slots in deterministic edge
	// order.
	epilogue := make([]copyStep, 0, len(delaySlot))
	for _, e := range g.edges {
		if !e.Delay {
			continue
		}
		epilogue = append(epilogue, copyStep{
			from: valueSlot[e.Source],
			to:   delaySlot[e],
		})
	}
	sort.Slice(epilogue, func(i, j int) bool {
		if epilogue[i].from != epilogue[j].from {
			return epilogue[i].from < epilogue[j].from
		}
		return epilogue[i].to < epilogue[j].to
	})

	schedule := &Schedule{
		steps:    steps,
		epilogue: epilogue,
		byNode:   byNode,
		widths:   alloc.widths,
	}
	p := pool.New(blockSize, alloc.widths)
	schedule.bind(p)
	return schedule, p, nil
}

// topoOrder computes Kahn's ordering over non-delay edges with ascending
// node identity as tie-break.
func topoOrder(g *Graph) ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(g.nodes))
	ids := g.ids()
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, e := range g.edges {
		if e.Delay {
			continue
		}
		indegree[e.Dest.Node]++
	}

	ready := &nodeIDHeap{}
	heap.Init(ready)
	for _, id := range ids {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]NodeID, 0, len(ids))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		for _, i := range g.outgoing[id] {
			e := g.edges[i]
			if e.Delay {
				continue
			}
			indegree[e.Dest.Node]--
			if indegree[e.Dest.Node] == 0 {
				heap.Push(ready, e.Dest.Node)
			}
		}
	}

	if len(order) < len(ids) {
		scheduled := make(map[NodeID]bool, len(order))
		for _, id := range order {
			scheduled[id] = true
		}
		var remaining []NodeID
		for _, id := range ids {
			if !scheduled[id] {
				remaining = append(remaining, id)
			}
		}
		return nil, &CompileError{Nodes: remaining}
	}
	return order, nil
}

// incomingTo returns edges ending at the input port, in the deterministic
// adjacency order.
func incomingTo(g *Graph, id NodeID, port int) []Edge {
	var edges []Edge
	for _, i := range g.incoming[id] {
		e := g.edges[i]
		if e.Dest.Port == port {
			edges = append(edges, e)
		}
	}
	return edges
}

// bind resolves slot indices into pool buffer views so the render path
// indexes nothing.
func (s *Schedule) bind(p *pool.Pool) {
	for i := range s.steps {
		st := &s.steps[i]
		st.inBufs = make([]signal.Float64, len(st.in))
		for j, slot := range st.in {
			st.inBufs[j] = p.Slot(slot)
		}
		st.outBufs = make([]signal.Float64, len(st.out))
		for j, slot := range st.out {
			st.outBufs[j] = p.Slot(slot)
		}
	}
}

// slotAlloc assigns pool slots by linear scan. Freed slots are reused
// lowest-index-first per channel width, which keeps assignment
// deterministic and the pool minimal.
type slotAlloc struct {
	widths []int
	free   map[int][]int
	live   []liveSlot
}

type liveSlot struct {
	slot  int
	death int
}

func newSlotAlloc() *slotAlloc {
	return &slotAlloc{
		free: make(map[int][]int),
	}
}

// persistent creates a slot excluded from reuse.
func (a *slotAlloc) persistent(width int) int {
	slot := len(a.widths)
	a.widths = append(a.widths, width)
	return slot
}

// acquire hands out a slot of the width, reusing a dead one if possible.
// The slot returns to the free list after the death step completes.
func (a *slotAlloc) acquire(width, death int) int {
	var slot int
	if free := a.free[width]; len(free) > 0 {
		slot = free[0]
		a.free[width] = free[1:]
	} else {
		slot = len(a.widths)
		a.widths = append(a.widths, width)
	}
	a.live = append(a.live, liveSlot{slot: slot, death: death})
	return slot
}

// releaseDead returns slots whose lifetime ended at the step.
func (a *slotAlloc) releaseDead(step int) {
	kept := a.live[:0]
	for _, l := range a.live {
		if l.death == step {
			a.free[l.width(a)] = insertSorted(a.free[l.width(a)], l.slot)
		} else {
			kept = append(kept, l)
		}
	}
	a.live = kept
}

func (l liveSlot) width(a *slotAlloc) int {
	return a.widths[l.slot]
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
