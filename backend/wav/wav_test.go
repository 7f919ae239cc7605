package wav_test

import (
	"os"
	"path/filepath"
	"testing"

	goaudiowav "github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"

	"github.com/dudk/patch/backend"
	"github.com/dudk/patch/backend/wav"
	"github.com/dudk/patch/signal"
)

func TestBackendBitDepth(t *testing.T) {
	_, err := wav.New("out.wav", signal.BitDepth8, 0)
	assert.Equal(t, wav.ErrUnsupportedBitDepth, err)
}

func TestBackendRendersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	const blocks = 4

	b, err := wav.New(path, signal.BitDepth16, blocks)
	assert.Nil(t, err)

	rendered := make(chan struct{})
	n := 0
	h, err := b.Open(backend.Config{
		SampleRate: 44100,
		BlockSize:  64,
		Channels:   2,
	}, func(in, out signal.Float64) {
		for ch := range out {
			for i := range out[ch] {
				out[ch][i] = 0.5
			}
		}
		if n++; n == blocks {
			close(rendered)
		}
	})
	assert.Nil(t, err)

	// the loop stops at the block limit, close flushes the encoder
	<-rendered
	assert.Nil(t, h.Close())

	f, err := os.Open(path)
	assert.Nil(t, err)
	defer f.Close()
	d := goaudiowav.NewDecoder(f)
	assert.True(t, d.IsValidFile())
	buf, err := d.FullPCMBuffer()
	assert.Nil(t, err)
	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.Equal(t, blocks*64*2, len(buf.Data))
	floats := signal.InterInt{
		Data:        buf.Data,
		NumChannels: 2,
		BitDepth:    signal.BitDepth16,
	}.AsFloat64()
	assert.InDelta(t, 0.5, floats[0][0], 1e-3)
	assert.InDelta(t, 0.5, floats[1][blocks*64-1], 1e-3)
}
