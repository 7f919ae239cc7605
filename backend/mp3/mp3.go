// Package mp3 renders engine output to an mp3 file through lame. Like
// the wav backend it is offline and pulls blocks at encoding pace.
package mp3

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/viert/lame"

	"github.com/dudk/patch/backend"
	"github.com/dudk/patch/signal"
)

// Backend writes rendered blocks to an mp3 file. Limit caps the number
// of rendered blocks, zero renders until the handle is closed.
type Backend struct {
	path    string
	bitRate int
	quality int
	limit   int
}

type handle struct {
	file   *os.File
	wr     *lame.LameWriter
	out    signal.Float64
	render backend.RenderFunc
	limit  int
	done   chan struct{}
	closed chan error
}

// New creates a new mp3 backend.
func New(path string, bitRate, quality, limit int) *Backend {
	return &Backend{path: path, bitRate: bitRate, quality: quality, limit: limit}
}

// Open creates the file, initializes the encoder and starts the
// encoding loop.
func (b *Backend) Open(cfg backend.Config, render backend.RenderFunc) (backend.Handle, error) {
	f, err := os.Create(b.path)
	if err != nil {
		return nil, err
	}
	wr := lame.NewWriter(f)
	wr.Encoder.SetBitrate(b.bitRate)
	wr.Encoder.SetQuality(b.quality)
	wr.Encoder.SetNumChannels(cfg.Channels)
	wr.Encoder.SetInSamplerate(cfg.SampleRate)
	wr.Encoder.SetMode(lame.JOINT_STEREO)
	wr.Encoder.SetVBR(lame.VBR_RH)
	wr.Encoder.InitParams()
	h := &handle{
		file:   f,
		wr:     wr,
		out:    signal.EmptyFloat64(cfg.Channels, cfg.BlockSize),
		render: render,
		limit:  b.limit,
		done:   make(chan struct{}),
		closed: make(chan error, 1),
	}
	go h.loop()
	return h, nil
}

func (h *handle) loop() {
	var err error
	for rendered := 0; h.limit == 0 || rendered < h.limit; rendered++ {
		select {
		case <-h.done:
			h.closed <- err
			return
		default:
		}
		h.render(nil, h.out)
		buf := new(bytes.Buffer)
		ints := h.out.AsInterInt(signal.BitDepth16)
		for i := range ints {
			if err = binary.Write(buf, binary.LittleEndian, int16(ints[i])); err != nil {
				break
			}
		}
		if err != nil {
			break
		}
		if _, err = h.wr.Write(buf.Bytes()); err != nil {
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
	if encErr := h.wr.Close(); err == nil {
		err = encErr
	}
	if closeErr := h.file.Close(); err == nil {
		err = closeErr
	}
	return err
}
