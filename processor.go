package patch

import (
	"github.com/dudk/patch/signal"
)

type (
	// Processor is implemented by every node of the graph. Spec is
	// queried once when the node is added and must not change afterwards.
	// Process is called on the render goroutine once per block and must
	// not allocate, block or let a panic escape unhandled.
	Processor interface {
		Spec() Spec
		Process(Block) error
	}

	// Spec declares the shape of a processor: its ports and parameters.
	Spec struct {
		Inputs  []PortSpec
		Outputs []PortSpec
		Params  []ParamSpec
	}

	// PortSpec describes a single input or output port.
	PortSpec struct {
		// Channels is the channel count of buffers flowing through
		// this port.
		Channels int
		// Summing allows multiple edges on an input port. Their
		// signals are mixed before the processor runs.
		Summing bool
	}

	// ParamSpec describes a named scalar parameter.
	ParamSpec struct {
		Name    string
		Default float64
		Min     float64
		Max     float64
	}

	// Block carries everything a processor needs to render one block.
	// Input buffers are read-only views, output buffers must be fully
	// written. Both are owned by the engine and valid only during the
	// Process call.
	Block struct {
		Input  []signal.Float64
		Output []signal.Float64
		// Params holds parameter values resolved for this block, in
		// declaration order.
		Params Values
		// Position is the transport position of the first sample of
		// the block.
		Position int64
		// SampleRate of the engine.
		SampleRate int
	}

	// Values is a read-only view of resolved parameter values.
	Values []float64
)

// Value returns resolved value of parameter i.
func (v Values) Value(i int) float64 {
	return v[i]
}

// paramIndex returns index of the named parameter in declaration order,
// or -1 if the node declares no such parameter.
func (s Spec) paramIndex(name string) int {
	for i := range s.Params {
		if s.Params[i].Name == name {
			return i
		}
	}
	return -1
}
