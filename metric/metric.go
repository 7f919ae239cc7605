/*
Package metric measures the render activity of engines with expvar
counters.

Counters are captured on the render goroutine, so everything here is a
single atomic store or add. Values are published per engine id.
*/
package metric

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dudk/patch/signal"
)

const enginesLabel = "patch.engines"

const (
	// BlockCounter measures number of rendered blocks.
	BlockCounter = "Blocks"
	// SampleCounter measures number of rendered samples per channel.
	SampleCounter = "Samples"
	// LatencyCounter measures the duration of the last render call.
	LatencyCounter = "Latency"
	// DurationCounter counts the duration of rendered signal.
	DurationCounter = "Duration"
	// OverrunCounter counts blocks that exceeded their deadline.
	OverrunCounter = "Overruns"
	// FaultCounter counts contained node processing faults.
	FaultCounter = "Faults"
)

var (
	engines = meters{
		m: make(map[string]*Meter),
	}

	counters = []string{
		BlockCounter,
		SampleCounter,
		LatencyCounter,
		DurationCounter,
		OverrunCounter,
		FaultCounter,
	}
)

// Get returns metric values for provided engine id.
func Get(engineID string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(engineID, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// Meter captures render counters of one engine.
type Meter struct {
	sampleRate    int
	blockDuration time.Duration
	blocks        *expvar.Int
	samples       *expvar.Int
	overruns      *expvar.Int
	faults        *expvar.Int
	latency       *duration
	duration      *duration
}

// ForEngine returns the meter for provided engine id, creating it on
// first use.
func ForEngine(engineID string, sampleRate, blockSize int) *Meter {
	return engines.get(engineID, sampleRate, blockSize)
}

// Block captures counters of one rendered block.
func (m *Meter) Block(blockSize int, elapsed time.Duration) {
	m.blocks.Add(1)
	m.samples.Add(int64(blockSize))
	m.latency.set(elapsed)
	m.duration.add(m.blockDuration)
}

// Reconfigure updates the per-block duration after the engine changes
// its sample rate or block size. Accumulated counters are kept.
func (m *Meter) Reconfigure(sampleRate, blockSize int) {
	m.sampleRate = sampleRate
	m.blockDuration = signal.DurationOf(sampleRate, int64(blockSize))
}

// Overrun counts a block that exceeded its deadline.
func (m *Meter) Overrun() {
	m.overruns.Add(1)
}

// Fault counts a contained node processing fault.
func (m *Meter) Fault() {
	m.faults.Add(1)
}

type meters struct {
	sync.Mutex
	m map[string]*Meter
}

func (ms *meters) get(engineID string, sampleRate, blockSize int) *Meter {
	ms.Lock()
	defer ms.Unlock()
	if m, ok := ms.m[engineID]; ok {
		return m
	}
	m := newMeter(engineID, sampleRate, blockSize)
	ms.m[engineID] = m
	return m
}

func newMeter(engineID string, sampleRate, blockSize int) *Meter {
	m := &Meter{
		sampleRate:    sampleRate,
		blockDuration: signal.DurationOf(sampleRate, int64(blockSize)),
		blocks:        expvar.NewInt(key(engineID, BlockCounter)),
		samples:       expvar.NewInt(key(engineID, SampleCounter)),
		overruns:      expvar.NewInt(key(engineID, OverrunCounter)),
		faults:        expvar.NewInt(key(engineID, FaultCounter)),
		latency:       &duration{},
		duration:      &duration{},
	}
	expvar.Publish(key(engineID, LatencyCounter), m.latency)
	expvar.Publish(key(engineID, DurationCounter), m.duration)
	return m
}

func key(engineID, counter string) string {
	return fmt.Sprintf("%s.%s.%s", enginesLabel, engineID, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(atomic.LoadInt64(&v.d)).String())
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}
