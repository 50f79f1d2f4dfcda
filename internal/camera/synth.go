package camera

import (
	"context"
	"time"
)

// Synth is a synthetic frame source for dev mode and tests. It plays back a
// scripted list of vector fields at the configured framerate, looping when
// the script runs out. A nil script produces all-zero vector fields.
type Synth struct {
	framerate int
	script    [][]MotionVector
	frames    chan Frame
}

// NewSynth builds a synthetic source. Frames are not produced until Run is
// called.
func NewSynth(framerate int, script [][]MotionVector) *Synth {
	if framerate <= 0 {
		framerate = 20
	}
	return &Synth{
		framerate: framerate,
		script:    script,
		frames:    make(chan Frame),
	}
}

// Frames returns the frame output channel.
func (s *Synth) Frames() <-chan Frame { return s.frames }

// Framerate returns the configured playback rate.
func (s *Synth) Framerate() int { return s.framerate }

// Run emits frames until the context is cancelled, then closes the output
// channel.
func (s *Synth) Run(ctx context.Context) {
	defer close(s.frames)
	tick := time.NewTicker(time.Second / time.Duration(s.framerate))
	defer tick.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			var vectors []MotionVector
			if len(s.script) > 0 {
				vectors = s.script[i%len(s.script)]
				i++
			}
			frame := Frame{
				Timestamp: now,
				Image:     []byte{0xff, 0xd8, 0xff, 0xd9}, // minimal JPEG marker pair
				Vectors:   vectors,
				Priority:  NeverInspect,
			}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// UniformField builds a vector field of n identical vectors, handy for
// scripting coherent motion.
func UniformField(n int, x, y int8) []MotionVector {
	field := make([]MotionVector, n)
	for i := range field {
		field[i] = MotionVector{X: x, Y: y}
	}
	return field
}
