// Package motion implements the sum-of-thresholded-vectors (SoTV) motion
// pre-filter. A small threshold drops per-vector noise, the surviving vectors
// are summed as vectors so incoherent motion cancels while a large coherent
// mover reinforces, and the x/y sums are smoothed in time through a
// Chebyshev type-II IIR cascade. The smoothed magnitude is the frame's
// motion score and scheduling priority.
package motion

import (
	"math"

	"github.com/fernwatch/camtrap/internal/camera"
)

// Config holds the tuning constants for one Filter instance.
type Config struct {
	// SmallThreshold zeroes individual vectors whose magnitude does not
	// exceed it before summation (per-vector noise floor).
	SmallThreshold float64

	// ScoreThreshold is applied to the smoothed SoTV magnitude to decide
	// MOTION vs STILL.
	ScoreThreshold float64

	// IIROrder, IIRAttenuationDB and IIRCutoffHz parameterise the smoothing
	// filter design.
	IIROrder         int
	IIRAttenuationDB float64
	IIRCutoffHz      float64
}

// Filter scores frames by SoTV. It carries the running IIR state for both
// axes, so one Filter belongs to exactly one pipeline instance and must only
// be fed frames in capture order.
type Filter struct {
	smallThreshold float64
	scoreThreshold float64
	x, y           *Chain
}

// NewFilter designs the smoothing filter for the given framerate and returns
// a ready Filter.
func NewFilter(cfg Config, framerate int) (*Filter, error) {
	sos, err := Cheby2SOS(cfg.IIROrder, cfg.IIRAttenuationDB, cfg.IIRCutoffHz, framerate)
	if err != nil {
		return nil, err
	}
	return &Filter{
		smallThreshold: cfg.SmallThreshold,
		scoreThreshold: cfg.ScoreThreshold,
		x:              NewChain(sos),
		y:              NewChain(sos),
	}, nil
}

// Score computes the smoothed SoTV magnitude for the frame's vector field.
// This advances the filter state and must be called exactly once per frame.
func (f *Filter) Score(vectors []camera.MotionVector) float64 {
	var xSum, ySum float64
	for _, v := range vectors {
		x := float64(v.X)
		y := float64(v.Y)
		if math.Sqrt(x*x+y*y) <= f.smallThreshold {
			continue
		}
		xSum += x
		ySum += y
	}

	xs := f.x.Filter(xSum)
	ys := f.y.Filter(ySum)
	return math.Sqrt(xs*xs + ys*ys)
}

// Apply scores the frame and mutates its Status and Priority in place: a
// MOTION frame carries its score as priority, a STILL frame carries exactly
// camera.NeverInspect so it can never be chosen for detector inspection.
func (f *Filter) Apply(frame *camera.Frame) float64 {
	score := f.Score(frame.Vectors)
	frame.Score = score
	if score >= f.scoreThreshold {
		frame.Status = camera.StatusMotion
		frame.Priority = score
	} else {
		frame.Status = camera.StatusStill
		frame.Priority = camera.NeverInspect
	}
	return score
}

// Reset clears the smoothing state, e.g. after a gap in the capture stream.
func (f *Filter) Reset() {
	f.x.Reset()
	f.y.Reset()
}
