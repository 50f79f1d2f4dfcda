package detect

import "testing"

func referenceParams() RunLengthParams {
	return RunLengthParams{
		AnimalSpeedMPS:   1.0,
		VisibleAreaM2:    0.0064,
		SubjectDistanceM: 1.0,
		FocalLengthM:     3.6e-3,
		PixelSizeM:       1.4e-6,
		SensorPixels:     2592,
		ResolutionWidth:  640,
	}
}

func TestRunLengthReferenceHardware(t *testing.T) {
	// The optics cancel out of the ratio: run = body / (speed/framerate) / 2
	// = 0.08 m / 0.05 m per frame / 2, which truncates to 0 and clamps to 1.
	got := RunLength(referenceParams(), 20)
	if got != 1 {
		t.Fatalf("run length = %d, want clamp to 1", got)
	}
}

func TestRunLengthGrowsWithLargerSlowerAnimal(t *testing.T) {
	p := referenceParams()
	p.VisibleAreaM2 = 1.0  // 1 m body
	p.AnimalSpeedMPS = 0.5 // slow mover
	got := RunLength(p, 20)
	// run = 1 m / 0.025 m per frame / 2 = 20 frames, give or take float
	// truncation at the boundary.
	if got < 19 || got > 20 {
		t.Fatalf("run length = %d, want 19..20", got)
	}
}

func TestRunLengthDefaultsOnInvalidParams(t *testing.T) {
	p := referenceParams()
	p.AnimalSpeedMPS = 0
	if got := RunLength(p, 20); got != 1 {
		t.Fatalf("run length with zero speed = %d, want 1", got)
	}
	if got := RunLength(referenceParams(), 0); got != 1 {
		t.Fatalf("run length with zero framerate = %d, want 1", got)
	}
}
