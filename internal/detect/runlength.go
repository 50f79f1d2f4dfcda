package detect

import "math"

// RunLengthParams describe the expected subject and the camera optics, used
// to reason about how many frames an animal confirmed in one frame is likely
// to also occupy.
type RunLengthParams struct {
	// AnimalSpeedMPS is the minimum animal speed that should trigger the
	// trap, metres per second.
	AnimalSpeedMPS float64

	// VisibleAreaM2 is the visible animal area that should trigger, m².
	VisibleAreaM2 float64

	// SubjectDistanceM is the expected distance of the animal from the
	// camera, metres.
	SubjectDistanceM float64

	// FocalLengthM and PixelSizeM are camera constants, metres.
	FocalLengthM float64
	PixelSizeM   float64

	// SensorPixels is the pixel count across the sensor width;
	// ResolutionWidth is the configured capture width in pixels.
	SensorPixels    int
	ResolutionWidth int
}

// RunLength converts the physical parameters into a per-side smoothing
// radius in frames: half the time the animal needs to move one body length,
// projected through the camera optics onto the sensor. Within that window a
// frame adjacent to a confirmed detection almost certainly still shows the
// animal, so it can be labelled without another detector invocation. The
// result is clamped to at least one frame.
func RunLength(p RunLengthParams, framerate int) int {
	if framerate <= 0 || p.AnimalSpeedMPS <= 0 || p.SubjectDistanceM <= 0 ||
		p.FocalLengthM <= 0 || p.PixelSizeM <= 0 || p.SensorPixels <= 0 || p.ResolutionWidth <= 0 {
		return 1
	}

	// Metres of world per output pixel at the subject plane.
	pixelRatio := p.PixelSizeM * float64(p.SensorPixels) / float64(p.ResolutionWidth)

	// Projected body length and per-frame displacement, both in pixels.
	bodyPixels := math.Sqrt(p.VisibleAreaM2) * p.FocalLengthM / (pixelRatio * p.SubjectDistanceM)
	pixelsPerFrame := p.AnimalSpeedMPS * p.FocalLengthM /
		(float64(framerate) * pixelRatio * p.SubjectDistanceM)
	if pixelsPerFrame <= 0 {
		return 1
	}

	run := int(bodyPixels / pixelsPerFrame / 2)
	if run < 1 {
		run = 1
	}
	return run
}
