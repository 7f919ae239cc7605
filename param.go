package patch

// paramState is the render-side state of a single parameter. It holds
// the current value and an optional linear ramp towards a target.
// Resolution happens at block rate: the value a processor observes is the
// value at the first sample of the block.
type paramState struct {
	value     float64
	target    float64
	delta     float64 // per-sample increment while ramping
	remaining int     // samples left until target is reached
}

// set jumps to the value immediately, cancelling any active ramp.
func (p *paramState) set(v float64) {
	p.value = v
	p.target = v
	p.delta = 0
	p.remaining = 0
}

// ramp starts a linear ramp towards target over n samples. n < 1 is an
// immediate set.
func (p *paramState) ramp(target float64, n int) {
	if n < 1 {
		p.set(target)
		return
	}
	p.target = target
	p.delta = (target - p.value) / float64(n)
	p.remaining = n
}

// advance moves the ramp forward by n samples.
func (p *paramState) advance(n int) {
	if p.remaining == 0 {
		return
	}
	if n >= p.remaining {
		p.set(p.target)
		return
	}
	p.value += p.delta * float64(n)
	p.remaining -= n
}
