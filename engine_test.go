package patch_test

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/dudk/patch"
	"github.com/dudk/patch/mock"
)

const (
	sampleRate = 44100
	blockSize  = 64
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newEngine is a constructor of a configured test engine.
func newEngine(t *testing.T, bk *mock.Backend) *patch.Engine {
	e, err := patch.New(patch.WithBackend(bk), patch.WithName("test"))
	assert.Nil(t, err)
	err = e.Configure(patch.Config{
		SampleRate: sampleRate,
		BlockSize:  blockSize,
		Channels:   2,
	})
	assert.Nil(t, err)
	return e
}

func TestConfigure(t *testing.T) {
	e, err := patch.New()
	assert.Nil(t, err)

	// configuration is required before anything else
	err = patch.Wait(e.Start())
	assert.Equal(t, patch.ErrInvalidState, err)
	err = e.Configure(patch.Config{})
	assert.Equal(t, patch.ErrInvalidState, cause(err))

	err = e.Configure(patch.Config{SampleRate: sampleRate, BlockSize: blockSize, Channels: 2})
	assert.Nil(t, err)
	assert.NotEqual(t, patch.NodeID(0), e.Output())
	assert.Equal(t, patch.NodeID(0), e.Input())

	// start without a backend fails and suspends the engine
	err = patch.Wait(e.Start())
	assert.Equal(t, patch.ErrNoBackend, err)
	err = patch.Wait(e.Resume())
	assert.Equal(t, patch.ErrNoBackend, err)

	_ = patch.Wait(e.Stop())
}

// Test lifecycle transitions for all states.
func TestLifecycle(t *testing.T) {
	bk := &mock.Backend{}
	e := newEngine(t, bk)

	// suspend while configured
	err := patch.Wait(e.Suspend())
	assert.Equal(t, patch.ErrInvalidState, err)

	err = patch.Wait(e.Start())
	assert.Nil(t, err)

	// start while running
	err = patch.Wait(e.Start())
	assert.Equal(t, patch.ErrInvalidState, err)

	err = patch.Wait(e.Suspend())
	assert.Nil(t, err)
	assert.True(t, bk.Closed)

	// suspend while suspended
	err = patch.Wait(e.Suspend())
	assert.Equal(t, patch.ErrInvalidState, err)

	err = patch.Wait(e.Resume())
	assert.Nil(t, err)

	err = patch.Wait(e.Stop())
	assert.Nil(t, err)
	assert.True(t, bk.Closed)
	goleak.VerifyNoLeaks(t)
}

func TestStopLeaks(t *testing.T) {
	// stop while configured
	e := newEngine(t, &mock.Backend{})
	assert.Nil(t, patch.Wait(e.Stop()))
	goleak.VerifyNoLeaks(t)

	// stop while running
	e = newEngine(t, &mock.Backend{})
	_ = patch.Wait(e.Start())
	assert.Nil(t, patch.Wait(e.Stop()))
	goleak.VerifyNoLeaks(t)

	// stop while suspended
	e = newEngine(t, &mock.Backend{})
	_ = patch.Wait(e.Start())
	_ = patch.Wait(e.Suspend())
	assert.Nil(t, patch.Wait(e.Stop()))
	goleak.VerifyNoLeaks(t)

	// stop while unconfigured
	e, _ = patch.New()
	assert.Nil(t, patch.Wait(e.Stop()))
	goleak.VerifyNoLeaks(t)
}

func TestRenderSine(t *testing.T) {
	bk := &mock.Backend{}
	e, err := patch.New(patch.WithBackend(bk))
	assert.Nil(t, err)
	assert.Nil(t, e.Configure(patch.Config{SampleRate: 48000, BlockSize: 128, Channels: 2}))

	sine, err := e.AddNode(&mock.Sine{Channels: 2, Frequency: 440, Amplitude: 1})
	assert.Nil(t, err)
	gain, err := e.AddNode(&mock.Gain{Channels: 2, Gain: 0.5})
	assert.Nil(t, err)
	assert.Nil(t, e.Connect(patch.PortRef{Node: sine}, patch.PortRef{Node: gain}, false))
	assert.Nil(t, e.Connect(patch.PortRef{Node: gain}, patch.PortRef{Node: e.Output()}, false))
	assert.Nil(t, e.Sync())

	assert.Nil(t, patch.Wait(e.Start()))
	out := bk.Render(1)
	for i := 0; i < 128; i++ {
		expected := 0.5 * math.Sin(2*math.Pi*440*float64(i)/48000)
		assert.InDelta(t, expected, out[0][i], 1e-6)
		assert.InDelta(t, expected, out[1][i], 1e-6)
	}

	_ = patch.Wait(e.Stop())
}

// Identical graphs rendered over the same range produce bit-identical
// output.
func TestRenderDeterminism(t *testing.T) {
	render := func() []float64 {
		bk := &mock.Backend{}
		e := newEngine(t, bk)
		sine, _ := e.AddNode(&mock.Sine{Channels: 2, Frequency: 440, Amplitude: 0.5})
		gain, _ := e.AddNode(&mock.Gain{Channels: 2, Gain: 0.5})
		assert.Nil(t, e.Connect(patch.PortRef{Node: sine}, patch.PortRef{Node: gain}, false))
		assert.Nil(t, e.Connect(patch.PortRef{Node: gain}, patch.PortRef{Node: e.Output()}, false))
		assert.Nil(t, e.Sync())
		assert.Nil(t, patch.Wait(e.Start()))
		bk.Render(2)
		out := append([]float64(nil), bk.Render(1)[0]...)
		_ = patch.Wait(e.Stop())
		return out
	}
	assert.Equal(t, render(), render())
}

func TestRenderInput(t *testing.T) {
	bk := &mock.Backend{}
	e, err := patch.New(patch.WithBackend(bk))
	assert.Nil(t, err)
	err = e.Configure(patch.Config{
		SampleRate:    sampleRate,
		BlockSize:     blockSize,
		Channels:      2,
		InputChannels: 2,
	})
	assert.Nil(t, err)
	assert.NotEqual(t, patch.NodeID(0), e.Input())

	assert.Nil(t, e.Connect(patch.PortRef{Node: e.Input()}, patch.PortRef{Node: e.Output()}, false))
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Start()))

	in := bk.Input()
	for ch := range in {
		for i := range in[ch] {
			in[ch][i] = 0.25
		}
	}
	out := bk.Render(1)
	assert.Equal(t, 0.25, out[0][0])
	assert.Equal(t, 0.25, out[1][blockSize-1])

	_ = patch.Wait(e.Stop())
}

func TestRenderBeforeCompile(t *testing.T) {
	bk := &mock.Backend{}
	e, err := patch.New(patch.WithBackend(bk))
	assert.Nil(t, err)
	assert.Nil(t, e.Configure(patch.Config{SampleRate: sampleRate, BlockSize: blockSize, Channels: 2}))
	assert.Nil(t, patch.Wait(e.Start()))
	// rendering with no bundle adopted yet yields silence
	out := bk.Render(1)
	for ch := range out {
		for _, v := range out[ch] {
			assert.Equal(t, 0.0, v)
		}
	}
	_ = patch.Wait(e.Stop())
}

func TestSetParameter(t *testing.T) {
	bk := &mock.Backend{}
	e := newEngine(t, bk)

	src, _ := e.AddNode(&mock.Const{Channels: 2, Value: 1})
	gain, _ := e.AddNode(&mock.Gain{Channels: 2, Gain: 0.5})
	assert.Nil(t, e.Connect(patch.PortRef{Node: src}, patch.PortRef{Node: gain}, false))
	assert.Nil(t, e.Connect(patch.PortRef{Node: gain}, patch.PortRef{Node: e.Output()}, false))
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Start()))

	out := bk.Render(1)
	assert.InDelta(t, 0.5, out[0][0], 1e-9)

	assert.Nil(t, e.SetParameter(gain, "gain", 0.25))
	out = bk.Render(1)
	assert.InDelta(t, 0.25, out[0][0], 1e-9)

	// unknown parameter is rejected on the control side
	err := e.SetParameter(gain, "cutoff", 1)
	assert.Equal(t, patch.ErrUnknownPort, cause(err))

	// a ramp reaches its target after the ramp length
	assert.Nil(t, e.Apply(patch.SetParameter{Node: gain, Name: "gain", Value: 1, Ramp: blockSize}))
	out = bk.Render(1)
	assert.InDelta(t, 0.25, out[0][0], 1e-9)
	out = bk.Render(1)
	assert.InDelta(t, 1.0, out[0][0], 1e-9)

	_ = patch.Wait(e.Stop())
}

func TestFaultContainment(t *testing.T) {
	tests := []struct {
		name   string
		faulty *mock.Faulty
	}{
		{name: "panic", faulty: &mock.Faulty{Channels: 2, Panic: true}},
		{name: "error", faulty: &mock.Faulty{Channels: 2}},
		{name: "non-finite", faulty: &mock.Faulty{Channels: 2, NaN: true}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bk := &mock.Backend{}
			e := newEngine(t, bk)

			healthy, _ := e.AddNode(&mock.Const{Channels: 2, Value: 0.5})
			src, _ := e.AddNode(&mock.Const{Channels: 2, Value: 1})
			f, _ := e.AddNode(test.faulty)
			assert.Nil(t, e.Connect(patch.PortRef{Node: src}, patch.PortRef{Node: f}, false))
			assert.Nil(t, e.Connect(patch.PortRef{Node: f}, patch.PortRef{Node: e.Output()}, false))
			assert.Nil(t, e.Connect(patch.PortRef{Node: healthy}, patch.PortRef{Node: e.Output()}, false))
			assert.Nil(t, e.Sync())
			assert.Nil(t, patch.Wait(e.Start()))

			// the faulting node is silenced, the rest of the block survives
			out := bk.Render(1)
			assert.InDelta(t, 0.5, out[0][0], 1e-9)
			assert.InDelta(t, 0.5, out[1][blockSize-1], 1e-9)

			d := <-e.Diagnostics()
			assert.Equal(t, patch.NodeFault, d.Kind)
			assert.Equal(t, f, d.Node)
			assert.NotNil(t, d.Err)

			_ = patch.Wait(e.Stop())
		})
	}
}

func TestFeedbackLoop(t *testing.T) {
	bk := &mock.Backend{}
	e := newEngine(t, bk)

	a, _ := e.AddNode(&mock.Gain{Channels: 2, Gain: 1})
	b, _ := e.AddNode(&mock.Gain{Channels: 2, Gain: 1})
	assert.Nil(t, e.Connect(patch.PortRef{Node: a}, patch.PortRef{Node: b}, false))

	// closing the loop without delay is rejected
	err := e.Connect(patch.PortRef{Node: b}, patch.PortRef{Node: a}, false)
	assert.Equal(t, patch.ErrCycleWithoutDelay, cause(err))

	// through a delay edge it compiles and renders
	assert.Nil(t, e.Connect(patch.PortRef{Node: b}, patch.PortRef{Node: a}, true))
	assert.Nil(t, e.Connect(patch.PortRef{Node: b}, patch.PortRef{Node: e.Output()}, false))
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Start()))
	bk.Render(2)

	_ = patch.Wait(e.Stop())
}

func TestTransport(t *testing.T) {
	bk := &mock.Backend{}
	e := newEngine(t, bk)
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Start()))

	assert.Equal(t, int64(0), e.Transport().Position())
	bk.Render(2)
	assert.Equal(t, int64(2*blockSize), e.Transport().Position())
	assert.Equal(t, 120.0, e.Transport().Tempo())

	// seek takes effect at the next block boundary
	assert.Nil(t, e.Apply(patch.SetTransportPosition{Position: sampleRate}))
	bk.Render(1)
	assert.Equal(t, int64(sampleRate+blockSize), e.Transport().Position())

	_ = patch.Wait(e.Stop())
}

func TestEventsDropped(t *testing.T) {
	bk := &mock.Backend{}
	e, err := patch.New(patch.WithBackend(bk))
	assert.Nil(t, err)
	assert.Nil(t, e.Configure(patch.Config{
		SampleRate:  sampleRate,
		BlockSize:   blockSize,
		Channels:    2,
		EventBuffer: 4,
	}))

	gain, _ := e.AddNode(&mock.Gain{Channels: 2, Gain: 1})
	assert.Nil(t, e.Connect(patch.PortRef{Node: gain}, patch.PortRef{Node: e.Output()}, false))
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Start()))

	// overflow the queue without rendering in between
	for i := 0; i < 10; i++ {
		assert.Nil(t, e.SetParameter(gain, "gain", float64(i)))
	}
	bk.Render(1)

	dropped := false
	for done := false; !done; {
		select {
		case d := <-e.Diagnostics():
			if d.Kind == patch.EventsDropped {
				dropped = true
			}
		default:
			done = true
		}
	}
	assert.True(t, dropped)

	_ = patch.Wait(e.Stop())
}

func TestIntrospection(t *testing.T) {
	e := newEngine(t, &mock.Backend{})

	sine, _ := e.AddNode(&mock.Sine{Channels: 2, Frequency: 440, Amplitude: 1})
	assert.Nil(t, e.Connect(patch.PortRef{Node: sine}, patch.PortRef{Node: e.Output()}, false))

	nodes := e.Nodes()
	assert.Equal(t, 2, len(nodes)) // output tap and sine
	edges := e.Edges()
	assert.Equal(t, 1, len(edges))
	assert.Equal(t, sine, edges[0].Source.Node)

	v, err := e.Parameter(sine, "frequency")
	assert.Nil(t, err)
	assert.Equal(t, 440.0, v)

	assert.Nil(t, e.RemoveNode(sine))
	assert.Equal(t, 1, len(e.Nodes()))
	assert.Equal(t, 0, len(e.Edges()))

	_ = patch.Wait(e.Stop())
}

// Edits and rendering run concurrently: the render side must keep
// producing blocks while the graph is reworked under it.
func TestEditWhileRendering(t *testing.T) {
	bk := &mock.Backend{}
	e := newEngine(t, bk)

	sine, _ := e.AddNode(&mock.Sine{Channels: 2, Frequency: 440, Amplitude: 0.5})
	assert.Nil(t, e.Connect(patch.PortRef{Node: sine}, patch.PortRef{Node: e.Output()}, false))
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Start()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 250; i++ {
			id, err := e.AddNode(&mock.Gain{Channels: 2, Gain: 0.5})
			assert.Nil(t, err)
			assert.Nil(t, e.Connect(patch.PortRef{Node: sine}, patch.PortRef{Node: id}, false))
			assert.Nil(t, e.SetParameter(id, "gain", 0.25))
			assert.Nil(t, e.RemoveNode(id))
		}
	}()
	for i := 0; i < 200; i++ {
		bk.Render(1)
	}
	wg.Wait()
	assert.Nil(t, e.Sync())
	bk.Render(1)

	_ = patch.Wait(e.Stop())
	goleak.VerifyNoLeaks(t)
}

func TestReconfigure(t *testing.T) {
	bk := &mock.Backend{}
	e := newEngine(t, bk)
	assert.Nil(t, patch.Wait(e.Start()))
	_ = patch.Wait(e.Suspend())

	// block size and sample rate change while suspended
	err := e.Configure(patch.Config{SampleRate: 48000, BlockSize: 128, Channels: 2})
	assert.Nil(t, err)
	assert.Nil(t, e.Sync())
	assert.Nil(t, patch.Wait(e.Resume()))
	out := bk.Render(1)
	assert.Equal(t, 128, len(out[0]))

	_ = patch.Wait(e.Stop())
}
