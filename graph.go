package patch

import (
	"fmt"
	"sort"
)

type (
	// NodeID is a stable node identity. Identities are monotonically
	// assigned and never reused within one graph.
	NodeID uint64

	// PortRef addresses a single port of a node. Whether it refers to an
	// input or an output follows from its position: edges run from an
	// output of the source node to an input of the destination node.
	PortRef struct {
		Node NodeID
		Port int
	}

	// Edge connects an output port to an input port. A delay edge hands
	// the destination the source's previous-block output and therefore
	// puts no ordering constraint on the schedule.
	Edge struct {
		Source PortRef
		Dest   PortRef
		Delay  bool
	}

	// Graph holds the live topology. It is owned exclusively by the
	// control goroutine and is never observed by the render path: the
	// render path only ever sees bundles compiled from its snapshots.
	Graph struct {
		maxNodes int
		maxEdges int
		nextID   NodeID
		nodes    map[NodeID]*node
		edges    []Edge
		// adjacency indices into edges, kept sorted for deterministic
		// traversal and compilation.
		outgoing map[NodeID][]int
		incoming map[NodeID][]int
	}

	// node is a graph entry for one processor.
	node struct {
		id     NodeID
		proc   Processor
		spec   Spec
		params []float64 // control-side values, in declaration order
	}

	// NodeInfo describes a node for introspection.
	NodeInfo struct {
		ID      NodeID
		Inputs  []PortSpec
		Outputs []PortSpec
		Params  []ParamSpec
	}
)

// NewGraph returns an empty graph with provided capacity limits. Zero or
// negative limit means unlimited.
func NewGraph(maxNodes, maxEdges int) *Graph {
	return &Graph{
		maxNodes: maxNodes,
		maxEdges: maxEdges,
		nextID:   1,
		nodes:    make(map[NodeID]*node),
		outgoing: make(map[NodeID][]int),
		incoming: make(map[NodeID][]int),
	}
}

// AddNode adds a processor to the graph and returns its identity.
func (g *Graph) AddNode(p Processor) (NodeID, error) {
	if g.maxNodes > 0 && len(g.nodes) >= g.maxNodes {
		return 0, fmt.Errorf("add node: %w", ErrCapacityExceeded)
	}
	spec := p.Spec()
	params := make([]float64, len(spec.Params))
	for i := range spec.Params {
		params[i] = spec.Params[i].Default
	}
	id := g.nextID
	g.nextID++
	g.nodes[id] = &node{
		id:     id,
		proc:   p,
		spec:   spec,
		params: params,
	}
	return id, nil
}

// RemoveNode removes the node and all edges attached to it.
func (g *Graph) RemoveNode(id NodeID) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("remove node %d: %w", id, ErrUnknownNode)
	}
	kept := g.edges[:0:0]
	for _, e := range g.edges {
		if e.Source.Node != id && e.Dest.Node != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	delete(g.nodes, id)
	g.reindex()
	return nil
}

// Connect adds an edge between an output and an input port. The edge is
// validated against the current topology and, unless it is marked delay,
// against cycles: closing a cycle that has no delay edge fails with
// ErrCycleWithoutDelay and leaves the graph untouched.
func (g *Graph) Connect(source, dest PortRef, delay bool) error {
	src, ok := g.nodes[source.Node]
	if !ok {
		return fmt.Errorf("connect source %d: %w", source.Node, ErrUnknownNode)
	}
	dst, ok := g.nodes[dest.Node]
	if !ok {
		return fmt.Errorf("connect dest %d: %w", dest.Node, ErrUnknownNode)
	}
	if source.Port < 0 || source.Port >= len(src.spec.Outputs) {
		return fmt.Errorf("connect source %d port %d: %w", source.Node, source.Port, ErrUnknownPort)
	}
	if dest.Port < 0 || dest.Port >= len(dst.spec.Inputs) {
		return fmt.Errorf("connect dest %d port %d: %w", dest.Node, dest.Port, ErrUnknownPort)
	}
	out := src.spec.Outputs[source.Port]
	in := dst.spec.Inputs[dest.Port]
	if out.Channels != in.Channels {
		return fmt.Errorf("connect %d channels to %d channels: %w", out.Channels, in.Channels, ErrPortTypeMismatch)
	}
	if g.maxEdges > 0 && len(g.edges) >= g.maxEdges {
		return fmt.Errorf("connect: %w", ErrCapacityExceeded)
	}
	for _, i := range g.incoming[dest.Node] {
		e := g.edges[i]
		if e.Dest != dest {
			continue
		}
		if e.Source == source {
			return fmt.Errorf("connect: %w", ErrPortAlreadyBound)
		}
		if !in.Summing {
			return fmt.Errorf("connect input %d of node %d: %w", dest.Port, dest.Node, ErrPortAlreadyBound)
		}
	}
	if !delay && g.path(dest.Node, source.Node) {
		return fmt.Errorf("connect %d to %d: %w", source.Node, dest.Node, ErrCycleWithoutDelay)
	}
	g.edges = append(g.edges, Edge{Source: source, Dest: dest, Delay: delay})
	g.reindex()
	return nil
}

// Disconnect removes the edge between two ports.
func (g *Graph) Disconnect(source, dest PortRef) error {
	for i, e := range g.edges {
		if e.Source == source && e.Dest == dest {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			g.reindex()
			return nil
		}
	}
	if _, ok := g.nodes[source.Node]; !ok {
		return fmt.Errorf("disconnect source %d: %w", source.Node, ErrUnknownNode)
	}
	if _, ok := g.nodes[dest.Node]; !ok {
		return fmt.Errorf("disconnect dest %d: %w", dest.Node, ErrUnknownNode)
	}
	return fmt.Errorf("disconnect: %w", ErrUnknownPort)
}

// SetParameter sets the control-side value of a named parameter.
func (g *Graph) SetParameter(id NodeID, name string, value float64) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("set parameter of node %d: %w", id, ErrUnknownNode)
	}
	i := n.spec.paramIndex(name)
	if i < 0 {
		return fmt.Errorf("set parameter %q of node %d: %w", name, id, ErrUnknownPort)
	}
	n.params[i] = value
	return nil
}

// Parameter returns the control-side value of a named parameter.
func (g *Graph) Parameter(id NodeID, name string) (float64, error) {
	n, ok := g.nodes[id]
	if !ok {
		return 0, fmt.Errorf("parameter of node %d: %w", id, ErrUnknownNode)
	}
	i := n.spec.paramIndex(name)
	if i < 0 {
		return 0, fmt.Errorf("parameter %q of node %d: %w", name, id, ErrUnknownPort)
	}
	return n.params[i], nil
}

// Nodes enumerates the graph nodes in ascending identity order.
func (g *Graph) Nodes() []NodeInfo {
	infos := make([]NodeInfo, 0, len(g.nodes))
	for _, id := range g.ids() {
		n := g.nodes[id]
		infos = append(infos, NodeInfo{
			ID:      id,
			Inputs:  n.spec.Inputs,
			Outputs: n.spec.Outputs,
			Params:  n.spec.Params,
		})
	}
	return infos
}

// Edges returns a copy of all edges.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// ids returns node identities in ascending order.
func (g *Graph) ids() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// reindex rebuilds adjacency after a structural change. Edge indices are
// kept sorted by (peer node, peer port) so traversal is deterministic.
func (g *Graph) reindex() {
	g.outgoing = make(map[NodeID][]int, len(g.nodes))
	g.incoming = make(map[NodeID][]int, len(g.nodes))
	for i, e := range g.edges {
		g.outgoing[e.Source.Node] = append(g.outgoing[e.Source.Node], i)
		g.incoming[e.Dest.Node] = append(g.incoming[e.Dest.Node], i)
	}
	less := func(a, b Edge) bool {
		if a.Source != b.Source {
			if a.Source.Node != b.Source.Node {
				return a.Source.Node < b.Source.Node
			}
			return a.Source.Port < b.Source.Port
		}
		if a.Dest.Node != b.Dest.Node {
			return a.Dest.Node < b.Dest.Node
		}
		return a.Dest.Port < b.Dest.Port
	}
	for id := range g.outgoing {
		idx := g.outgoing[id]
		sort.Slice(idx, func(i, j int) bool { return less(g.edges[idx[i]], g.edges[idx[j]]) })
	}
	for id := range g.incoming {
		idx := g.incoming[id]
		sort.Slice(idx, func(i, j int) bool { return less(g.edges[idx[i]], g.edges[idx[j]]) })
	}
}

// path reports whether to is reachable from from over non-delay edges.
func (g *Graph) path(from, to NodeID) bool {
	if from == to {
		return true
	}
	visited := make(map[NodeID]bool, len(g.nodes))
	stack := []NodeID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		for _, i := range g.outgoing[n] {
			e := g.edges[i]
			if e.Delay {
				continue
			}
			if e.Dest.Node == to {
				return true
			}
			stack = append(stack, e.Dest.Node)
		}
	}
	return false
}

// snapshot returns a deep copy of the topology for compilation. Processor
// instances are shared: their internal state lives on across recompiles.
func (g *Graph) snapshot() *Graph {
	s := &Graph{
		maxNodes: g.maxNodes,
		maxEdges: g.maxEdges,
		nextID:   g.nextID,
		nodes:    make(map[NodeID]*node, len(g.nodes)),
		edges:    append([]Edge(nil), g.edges...),
	}
	for id, n := range g.nodes {
		s.nodes[id] = &node{
			id:     n.id,
			proc:   n.proc,
			spec:   n.spec,
			params: append([]float64(nil), n.params...),
		}
	}
	s.reindex()
	return s
}
