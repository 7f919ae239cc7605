package patch

import (
	"github.com/dudk/patch/internal/rt"
)

type (
	// Command is an atomic control request against the engine. A command
	// either fully succeeds or leaves the graph exactly as it was.
	// Commands are applied on the control goroutine; an external
	// persistence layer can snapshot the graph through introspection
	// and replay it purely through commands.
	Command interface {
		apply(*Engine) error
		// structural commands invalidate the current schedule and
		// trigger a recompile.
		structural() bool
	}

	// AddNode adds a processor to the graph. ID carries the assigned
	// identity after the command succeeds.
	AddNode struct {
		Proc Processor
		ID   NodeID
	}

	// RemoveNode removes a node and all its edges.
	RemoveNode struct {
		ID NodeID
	}

	// Connect wires an output port to an input port.
	Connect struct {
		Source PortRef
		Dest   PortRef
		Delay  bool
	}

	// Disconnect removes the edge between two ports.
	Disconnect struct {
		Source PortRef
		Dest   PortRef
	}

	// SetParameter changes a named parameter. The change is validated
	// and stored on the control side, then travels to the render side
	// through the bounded event queue: At pins it to a transport
	// position, Ramp smooths it linearly over that many samples.
	SetParameter struct {
		Node  NodeID
		Name  string
		Value float64
		At    int64
		Ramp  int
	}

	// SetTransportPosition seeks the transport. The seek takes effect
	// at the next bundle adoption, never mid-block.
	SetTransportPosition struct {
		Position int64
	}
)

func (c *AddNode) apply(e *Engine) error {
	id, err := e.graph.AddNode(c.Proc)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (c *AddNode) structural() bool { return true }

func (c RemoveNode) apply(e *Engine) error {
	return e.graph.RemoveNode(c.ID)
}

func (c RemoveNode) structural() bool { return true }

func (c Connect) apply(e *Engine) error {
	return e.graph.Connect(c.Source, c.Dest, c.Delay)
}

func (c Connect) structural() bool { return true }

func (c Disconnect) apply(e *Engine) error {
	return e.graph.Disconnect(c.Source, c.Dest)
}

func (c Disconnect) structural() bool { return true }

func (c SetParameter) apply(e *Engine) error {
	if err := e.graph.SetParameter(c.Node, c.Name, c.Value); err != nil {
		return err
	}
	n := e.graph.nodes[c.Node]
	e.ring.Push(rt.Event{
		Node:  uint64(c.Node),
		Param: int32(n.spec.paramIndex(c.Name)),
		Ramp:  int32(c.Ramp),
		At:    c.At,
		Value: c.Value,
	})
	return nil
}

func (c SetParameter) structural() bool { return false }

func (c SetTransportPosition) apply(e *Engine) error {
	e.seekSeq++
	e.seekPos = c.Position
	if e.current != nil {
		e.current = e.current.withSeek(e.seekSeq, e.seekPos)
		e.handoff.publish(e.current)
	}
	return nil
}

func (c SetTransportPosition) structural() bool { return false }
