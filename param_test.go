package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamSet(t *testing.T) {
	var p paramState
	p.set(0.5)
	assert.Equal(t, 0.5, p.value)

	p.ramp(1, 100)
	p.set(0.25)
	// set cancels the ramp
	p.advance(100)
	assert.Equal(t, 0.25, p.value)
}

func TestParamRamp(t *testing.T) {
	var p paramState
	p.set(0)
	p.ramp(1, 100)

	p.advance(50)
	assert.InDelta(t, 0.5, p.value, 1e-9)
	p.advance(25)
	assert.InDelta(t, 0.75, p.value, 1e-9)
	// advancing past the end lands exactly on the target
	p.advance(1000)
	assert.Equal(t, 1.0, p.value)
	p.advance(100)
	assert.Equal(t, 1.0, p.value)
}

func TestParamRampImmediate(t *testing.T) {
	var p paramState
	p.set(0)
	p.ramp(2, 0)
	assert.Equal(t, 2.0, p.value)
}
