// Package wav renders engine output to a wav file. The backend is
// offline: blocks are pulled as fast as they can be encoded, not at
// device pace.
package wav

import (
	"errors"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dudk/patch/backend"
	"github.com/dudk/patch/signal"
)

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("Only 16 and 32 bit depth is supported")

const wavFormat = 1

// Backend writes rendered blocks to a wav file. Limit caps the number
// of rendered blocks, zero renders until the handle is closed.
type Backend struct {
	path     string
	bitDepth signal.BitDepth
	limit    int
}

type handle struct {
	file    *os.File
	encoder *wav.Encoder
	ib      *audio.IntBuffer
	out     signal.Float64
	render  backend.RenderFunc
	limit   int
	done    chan struct{}
	closed  chan error
}

// New creates a new wav backend.
func New(path string, bitDepth signal.BitDepth, limit int) (*Backend, error) {
	if bitDepth != signal.BitDepth16 && bitDepth != signal.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	return &Backend{path: path, bitDepth: bitDepth, limit: limit}, nil
}

// Open creates the file and starts the encoding loop.
func (b *Backend) Open(cfg backend.Config, render backend.RenderFunc) (backend.Handle, error) {
	f, err := os.Create(b.path)
	if err != nil {
		return nil, err
	}
	h := &handle{
		file:    f,
		encoder: wav.NewEncoder(f, cfg.SampleRate, int(b.bitDepth), cfg.Channels, wavFormat),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: cfg.Channels,
				SampleRate:  cfg.SampleRate,
			},
			SourceBitDepth: int(b.bitDepth),
		},
		out:    signal.EmptyFloat64(cfg.Channels, cfg.BlockSize),
		render: render,
		limit:  b.limit,
		done:   make(chan struct{}),
		closed: make(chan error, 1),
	}
	go h.loop(b.bitDepth)
	return h, nil
}

func (h *handle) loop(bitDepth signal.BitDepth) {
	var err error
	for rendered := 0; h.limit == 0 || rendered < h.limit; rendered++ {
		select {
		case <-h.done:
			h.closed <- err
			return
		default:
		}
		h.render(nil, h.out)
		h.ib.Data = h.out.AsInterInt(bitDepth)
		if err = h.encoder.Write(h.ib); err != nil {
			break
		}
	}
	<-h.done
	h.closed <- err
}

// Close stops the loop, flushes the encoder and closes the file.
func (h *handle) Close() error {
	close(h.done)
	err := <-h.closed
	if encErr := h.encoder.Close(); err == nil {
		err = encErr
	}
	if closeErr := h.file.Close(); err == nil {
		err = closeErr
	}
	return err
}
