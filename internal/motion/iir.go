package motion

// Biquad is a single second-order IIR filter section in direct form II with
// normalised a0 = 1. Sections are chained to build higher-order filters.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64

	tap1 float64
	tap2 float64
}

// Filter pushes one sample through the section and returns the filtered
// sample.
func (s *Biquad) Filter(x float64) float64 {
	out := s.B1 * s.tap1
	x -= s.A1 * s.tap1
	out += s.B2 * s.tap2
	x -= s.A2 * s.tap2
	out += x * s.B0
	s.tap2 = s.tap1
	s.tap1 = x
	return out
}

// Reset zeroes the section's delay taps.
func (s *Biquad) Reset() {
	s.tap1, s.tap2 = 0, 0
}

// Chain is a cascade of biquad sections forming one IIR filter. Each Chain
// carries its own running state; a filter instance must never be shared
// between pipeline instances.
type Chain struct {
	sections []Biquad
}

// NewChain builds a chain from second-order sections.
func NewChain(sections []Biquad) *Chain {
	cp := make([]Biquad, len(sections))
	copy(cp, sections)
	return &Chain{sections: cp}
}

// Filter pushes one sample through every section in turn.
func (c *Chain) Filter(x float64) float64 {
	for i := range c.sections {
		x = c.sections[i].Filter(x)
	}
	return x
}

// Reset zeroes all delay taps in the chain.
func (c *Chain) Reset() {
	for i := range c.sections {
		c.sections[i].Reset()
	}
}
