// Package mock provides processors and a manually driven backend for
// engine integration tests.
package mock

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-vecmath"

	"github.com/dudk/patch"
	"github.com/dudk/patch/backend"
	"github.com/dudk/patch/signal"
)

// ErrorOnCall is returned by failing mocks.
var ErrorOnCall = errors.New("mock error")

// Sine generates a sine wave with frequency and amplitude parameters.
// The same phase drives every channel.
type Sine struct {
	Channels  int
	Frequency float64
	Amplitude float64

	phase float64
}

// Spec exposes one output port and two ramped parameters.
func (s *Sine) Spec() patch.Spec {
	return patch.Spec{
		Outputs: []patch.PortSpec{{Channels: s.Channels}},
		Params: []patch.ParamSpec{
			{Name: "frequency", Default: s.Frequency, Min: 0, Max: 20000},
			{Name: "amplitude", Default: s.Amplitude, Min: 0, Max: 1},
		},
	}
}

// Process fills the output with the next chunk of the wave.
func (s *Sine) Process(b patch.Block) error {
	freq := b.Params.Value(0)
	amp := b.Params.Value(1)
	step := 2 * math.Pi * freq / float64(b.SampleRate)
	out := b.Output[0]
	for i := range out[0] {
		v := amp * math.Sin(s.phase)
		for ch := range out {
			out[ch][i] = v
		}
		s.phase += step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return nil
}

// Gain scales its summed input by the gain parameter.
type Gain struct {
	Channels int
	Gain     float64
}

// Spec exposes a summing input, an output and the gain parameter.
func (g *Gain) Spec() patch.Spec {
	return patch.Spec{
		Inputs:  []patch.PortSpec{{Channels: g.Channels, Summing: true}},
		Outputs: []patch.PortSpec{{Channels: g.Channels}},
		Params: []patch.ParamSpec{
			{Name: "gain", Default: g.Gain, Min: 0, Max: 10},
		},
	}
}

// Process scales input into output.
func (g *Gain) Process(b patch.Block) error {
	gain := b.Params.Value(0)
	for ch := range b.Output[0] {
		vecmath.ScaleBlock(b.Output[0][ch], b.Input[0][ch], gain)
	}
	return nil
}

// Pass copies input to output unchanged.
type Pass struct {
	Channels int
}

// Spec exposes one input and one output port.
func (p *Pass) Spec() patch.Spec {
	return patch.Spec{
		Inputs:  []patch.PortSpec{{Channels: p.Channels}},
		Outputs: []patch.PortSpec{{Channels: p.Channels}},
	}
}

// Process copies input to output.
func (p *Pass) Process(b patch.Block) error {
	b.Output[0].CopyFrom(b.Input[0])
	return nil
}

// Const outputs a constant value on every sample.
type Const struct {
	Channels int
	Value    float64
}

// Spec exposes one output port.
func (c *Const) Spec() patch.Spec {
	return patch.Spec{
		Outputs: []patch.PortSpec{{Channels: c.Channels}},
	}
}

// Process fills the output with the value.
func (c *Const) Process(b patch.Block) error {
	out := b.Output[0]
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = c.Value
		}
	}
	return nil
}

// Faulty misbehaves on demand: returns an error, panics or emits NaN
// once the configured block position is reached.
type Faulty struct {
	Channels int
	// FailAt is the block position at which the fault fires. Blocks
	// before it pass input through unchanged.
	FailAt int64
	Panic  bool
	NaN    bool
}

// Spec exposes one input and one output port.
func (f *Faulty) Spec() patch.Spec {
	return patch.Spec{
		Inputs:  []patch.PortSpec{{Channels: f.Channels, Summing: true}},
		Outputs: []patch.PortSpec{{Channels: f.Channels}},
	}
}

// Process fails once the block position reaches FailAt.
func (f *Faulty) Process(b patch.Block) error {
	b.Output[0].CopyFrom(b.Input[0])
	if b.Position < f.FailAt {
		return nil
	}
	if f.Panic {
		panic("mock panic")
	}
	if f.NaN {
		b.Output[0][0][0] = math.NaN()
		return nil
	}
	return ErrorOnCall
}

// Counter captures everything that reaches its summing input.
// Buffer is not thread-safe, so should not be checked while the engine
// is rendering.
type Counter struct {
	Channels int
	Discard  bool

	blocks  int
	samples int
	buffer  signal.Float64
}

// Spec exposes one summing input port.
func (c *Counter) Spec() patch.Spec {
	return patch.Spec{
		Inputs: []patch.PortSpec{{Channels: c.Channels, Summing: true}},
	}
}

// Process captures the input.
func (c *Counter) Process(b patch.Block) error {
	if !c.Discard {
		c.buffer = c.buffer.Append(b.Input[0])
	}
	c.blocks++
	c.samples += b.Input[0].Size()
	return nil
}

// Count returns blocks and samples metrics.
func (c *Counter) Count() (int, int) {
	return c.blocks, c.samples
}

// Buffer returns the captured signal.
func (c *Counter) Buffer() signal.Float64 {
	return c.buffer
}

// Backend drives the render function manually from the test goroutine.
type Backend struct {
	cfg    backend.Config
	render backend.RenderFunc
	in     signal.Float64
	out    signal.Float64
	Closed bool
	// ErrorOnOpen makes Open fail.
	ErrorOnOpen error
	// ErrorOnClose makes Close fail.
	ErrorOnClose error
}

// Open captures the render function without spawning a render loop.
func (b *Backend) Open(cfg backend.Config, render backend.RenderFunc) (backend.Handle, error) {
	if b.ErrorOnOpen != nil {
		return nil, b.ErrorOnOpen
	}
	b.cfg = cfg
	b.render = render
	b.out = signal.EmptyFloat64(cfg.Channels, cfg.BlockSize)
	if cfg.InputChannels > 0 {
		b.in = signal.EmptyFloat64(cfg.InputChannels, cfg.BlockSize)
	} else {
		b.in = nil
	}
	b.Closed = false
	return b, nil
}

// Close implements backend.Handle.
func (b *Backend) Close() error {
	b.Closed = true
	return b.ErrorOnClose
}

// Render renders n blocks and returns the output of the last one.
func (b *Backend) Render(n int) signal.Float64 {
	for i := 0; i < n; i++ {
		b.render(b.in, b.out)
	}
	return b.out
}

// Input exposes the buffer fed to the engine input node.
func (b *Backend) Input() signal.Float64 {
	return b.in
}
