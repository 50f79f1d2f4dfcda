package camera

import "time"

// MotionStatus categorises the motion content of a frame as judged by the
// motion filter.
type MotionStatus int

const (
	// StatusUnset means the frame has not been through the motion filter yet.
	StatusUnset MotionStatus = iota
	// StatusStill means no significant motion was found in the frame.
	StatusStill
	// StatusMotion means the frame carries coherent motion above threshold.
	StatusMotion
)

func (s MotionStatus) String() string {
	switch s {
	case StatusStill:
		return "still"
	case StatusMotion:
		return "motion"
	default:
		return "unset"
	}
}

// NeverInspect is the priority carried by frames that must never be handed to
// the detector. Every STILL frame has exactly this priority.
const NeverInspect = -1.0

// MotionVector is a single block motion vector as produced by the camera's
// hardware H.264 encoder: signed x/y displacement plus the sum of absolute
// differences for the block.
type MotionVector struct {
	X   int8
	Y   int8
	SAD uint16
}

// Frame is one captured camera frame: the encoded image payload, the raw
// motion vector field for the frame, and the labels the motion filter
// attaches. The image payload is a reference; frames move through the
// pipeline by value but share the underlying image bytes.
type Frame struct {
	Timestamp time.Time

	// Image is the encoded (JPEG) picture. May be nil when the frame has
	// been spooled to disk, in which case ImageRef points at the file.
	Image []byte

	// ImageRef is an on-disk path for the image payload, set once the frame
	// has been spooled by the recovery store or loaded back from it.
	ImageRef string

	// Vectors is the raw motion vector field from the encoder.
	Vectors []MotionVector

	// Score is the smoothed motion magnitude assigned by the motion filter.
	Score float64

	Status MotionStatus

	// Priority is the scheduling key: the smoothed motion magnitude for
	// MOTION frames, exactly NeverInspect for STILL frames.
	Priority float64
}

// Source produces frames at a fixed rate. The pipeline must drain Frames()
// fast enough that the producer never blocks.
type Source interface {
	Frames() <-chan Frame
	Framerate() int
}
