// Package portaudio plays engine output through the default portaudio
// device.
package portaudio

import (
	"github.com/gordonklaus/portaudio"

	"github.com/dudk/patch/backend"
	"github.com/dudk/patch/signal"
)

// Backend opens blocking streams on the default devices.
type Backend struct{}

type handle struct {
	stream *portaudio.Stream
	inBuf  []float32
	outBuf []float32
	in     signal.Float64
	out    signal.Float64
	render backend.RenderFunc
	done   chan struct{}
	closed chan error
}

// New returns the default device backend.
func New() Backend {
	return Backend{}
}

// Open initializes portaudio, opens the default stream and starts the
// render loop.
func (Backend) Open(cfg backend.Config, render backend.RenderFunc) (backend.Handle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	h := &handle{
		outBuf: make([]float32, cfg.BlockSize*cfg.Channels),
		out:    signal.EmptyFloat64(cfg.Channels, cfg.BlockSize),
		render: render,
		done:   make(chan struct{}),
		closed: make(chan error, 1),
	}
	var (
		stream *portaudio.Stream
		err    error
	)
	if cfg.InputChannels > 0 {
		h.inBuf = make([]float32, cfg.BlockSize*cfg.InputChannels)
		h.in = signal.EmptyFloat64(cfg.InputChannels, cfg.BlockSize)
		stream, err = portaudio.OpenDefaultStream(cfg.InputChannels, cfg.Channels, float64(cfg.SampleRate), cfg.BlockSize, &h.inBuf, &h.outBuf)
	} else {
		stream, err = portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.BlockSize, &h.outBuf)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if err = stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, err
	}
	h.stream = stream
	go h.loop()
	return h, nil
}

// loop drives the render function at the pace of the blocking stream.
func (h *handle) loop() {
	var err error
	for {
		select {
		case <-h.done:
			h.closed <- err
			return
		default:
		}
		if h.in != nil {
			if err = h.stream.Read(); err != nil {
				continue
			}
			deinterleave(h.inBuf, h.in)
		}
		h.render(h.in, h.out)
		interleave(h.out, h.outBuf)
		err = h.stream.Write()
	}
}

// Close stops the render loop, then the stream, then portaudio itself.
func (h *handle) Close() error {
	close(h.done)
	err := <-h.closed
	if stopErr := h.stream.Stop(); err == nil {
		err = stopErr
	}
	if closeErr := h.stream.Close(); err == nil {
		err = closeErr
	}
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	return err
}

func interleave(b signal.Float64, buf []float32) {
	numChannels := len(b)
	for i := range b[0] {
		for j := range b {
			buf[i*numChannels+j] = float32(b[j][i])
		}
	}
}

func deinterleave(buf []float32, b signal.Float64) {
	numChannels := len(b)
	for i := range b[0] {
		for j := range b {
			b[j][i] = float64(buf[i*numChannels+j])
		}
	}
}
