// Package detect drains closed motion sequences from the buffer in priority
// order, runs the external detector on a subsampled set of candidate frames
// and smooths confirmed detections across each sequence.
package detect

import (
	"context"
	"errors"
)

// Result is one detector verdict for one image.
type Result struct {
	// AnimalConfidence and HumanConfidence are decimal fractions in [0, 1].
	// Detectors without a human class always report zero human confidence.
	AnimalConfidence float32
	HumanConfidence  float32
}

// ErrUnavailable marks systemic detector failure. Unlike a single failed
// inference, which is tolerated fail-open, this aborts the scheduler: the
// trap cannot usefully run without its detector.
var ErrUnavailable = errors.New("detector unavailable")

// Detector is the external inference engine. Infer is synchronous, may take
// hundreds of milliseconds, and is not assumed safe for concurrent calls;
// the scheduler is its only caller.
type Detector interface {
	Infer(ctx context.Context, image []byte) (Result, error)
}
