package signal_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/patch/signal"
)

func TestInterIntAsFloat64(t *testing.T) {
	tests := []struct {
		ints        []int
		numChannels int
		bitDepth    signal.BitDepth
		expected    [][]float64
	}{
		{
			ints:        []int{1, 2, 1, 2, 1, 2},
			numChannels: 2,
			expected: [][]float64{
				{1, 1, 1},
				{2, 2, 2},
			},
		},
		{
			ints:        []int{math.MaxInt16, math.MaxInt16 * 2},
			numChannels: 2,
			bitDepth:    signal.BitDepth16,
			expected: [][]float64{
				{1},
				{2},
			},
		},
		{
			ints:     nil,
			expected: nil,
		},
	}

	for _, test := range tests {
		ints := signal.InterInt{
			Data:        test.ints,
			NumChannels: test.numChannels,
			BitDepth:    test.bitDepth,
		}
		result := ints.AsFloat64()
		assert.Equal(t, len(test.expected), len(result))
		for i := range test.expected {
			for j, val := range test.expected[i] {
				assert.Equal(t, val, result[i][j])
			}
		}
	}
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, signal.DurationOf(44100, 44100))
	assert.Equal(t, 500*time.Millisecond, signal.DurationOf(48000, 24000))
}

func TestClear(t *testing.T) {
	buf := signal.Float64{{1, 2}, {3, 4}}
	buf.Clear()
	assert.Equal(t, signal.Float64{{0, 0}, {0, 0}}, buf)
}

func TestCopyFrom(t *testing.T) {
	dst := signal.EmptyFloat64(2, 2)
	dst.CopyFrom(signal.Float64{{1, 2}, {3, 4}})
	assert.Equal(t, signal.Float64{{1, 2}, {3, 4}}, dst)

	// source with fewer channels leaves the rest untouched
	dst.CopyFrom(signal.Float64{{5, 6}})
	assert.Equal(t, signal.Float64{{5, 6}, {3, 4}}, dst)
}

func TestAppend(t *testing.T) {
	var buf signal.Float64
	buf = buf.Append(signal.Float64{{1}, {2}})
	buf = buf.Append(signal.Float64{{3}, {4}})
	assert.Equal(t, signal.Float64{{1, 3}, {2, 4}}, buf)
}

func TestAsAudioBuffer(t *testing.T) {
	buf := signal.Float64{{1, 0}, {-1, 0}}
	ab := buf.AsAudioBuffer(44100, signal.BitDepth16)
	assert.Equal(t, 2, ab.Format.NumChannels)
	assert.Equal(t, 44100, ab.Format.SampleRate)
	assert.Equal(t, 16, ab.SourceBitDepth)
	assert.Equal(t, []int{math.MaxInt16 - 1, -math.MaxInt16 + 1, 0, 0}, ab.Data)
}
