package patch

import (
	"sync/atomic"
	"time"

	"github.com/dudk/patch/signal"
)

// Transport tracks the absolute sample position of an engine. The
// position advances by exactly one block per render cycle and moves only
// on the render goroutine; seek requests arrive as commands and take
// effect at the next bundle adoption, never mid-block.
type Transport struct {
	sampleRate int
	blockSize  int
	tempo      float64
	pos        atomic.Int64
}

// Position returns the absolute sample position of the next block.
func (t *Transport) Position() int64 {
	return t.pos.Load()
}

// Elapsed returns the rendered duration at the current position.
func (t *Transport) Elapsed() time.Duration {
	return signal.DurationOf(t.sampleRate, t.pos.Load())
}

// Beats returns the musical position at the transport tempo.
func (t *Transport) Beats() float64 {
	seconds := float64(t.pos.Load()) / float64(t.sampleRate)
	return seconds * t.tempo / 60
}

// Tempo returns beats per minute used for the musical position.
func (t *Transport) Tempo() float64 {
	return t.tempo
}

// advance moves the position one block forward. Render goroutine only.
func (t *Transport) advance() {
	t.pos.Add(int64(t.blockSize))
}

// seek sets the position. Render goroutine only, at bundle adoption.
func (t *Transport) seek(pos int64) {
	t.pos.Store(pos)
}
