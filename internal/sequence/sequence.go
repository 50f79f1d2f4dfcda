// Package sequence groups motion-bearing frames into contiguous motion
// sequences and queues closed sequences for detector inspection in priority
// order.
package sequence

import (
	"time"

	"github.com/google/uuid"

	"github.com/fernwatch/camtrap/internal/camera"
)

// Label is the detector-derived category of a frame within a sequence.
type Label int

const (
	LabelUnknown Label = iota
	LabelEmpty
	LabelAnimal
	LabelHuman
	LabelContext
)

func (l Label) String() string {
	switch l {
	case LabelEmpty:
		return "empty"
	case LabelAnimal:
		return "animal"
	case LabelHuman:
		return "human"
	case LabelContext:
		return "context"
	default:
		return "unknown"
	}
}

// LabelledFrame is a frame inside a sequence together with its position and
// scheduling state. Priority starts as the frame's motion priority and drops
// to camera.NeverInspect once the frame has been labelled, which is what
// keeps the detector from re-scoring a frame.
type LabelledFrame struct {
	Frame    camera.Frame
	Index    int
	Priority float64
	Label    Label
}

// Sequence is an ordered run of consecutive frames spanning one motion
// episode. It is built by the Buffer, labelled by the detection scheduler and
// consumed by the output assembler; only one stage owns it at a time, so the
// methods are not synchronised.
type Sequence struct {
	ID        string
	StartedAt time.Time

	// Recovered marks a sequence reloaded from the recovery store. Recovered
	// sequences are scheduled ahead of newly captured ones.
	Recovered bool

	frames   []*LabelledFrame
	priority float64
	labelled bool
}

// New creates an empty sequence with a fresh identifier.
func New() *Sequence {
	return &Sequence{ID: uuid.NewString(), priority: camera.NeverInspect}
}

// Rebuild creates an empty sequence with a known identity, used by the
// recovery store when reloading persisted state.
func Rebuild(id string) *Sequence {
	return &Sequence{ID: id, priority: camera.NeverInspect}
}

// Append adds a frame to the end of the sequence. The first frame fixes the
// sequence start time.
func (s *Sequence) Append(frame camera.Frame) *LabelledFrame {
	if len(s.frames) == 0 {
		s.StartedAt = frame.Timestamp
	}
	lf := &LabelledFrame{
		Frame:    frame,
		Index:    len(s.frames),
		Priority: frame.Priority,
	}
	s.frames = append(s.frames, lf)
	return lf
}

// Frames returns the sequence's frames in capture order.
func (s *Sequence) Frames() []*LabelledFrame { return s.frames }

// Len returns the number of frames in the sequence.
func (s *Sequence) Len() int { return len(s.frames) }

// Priority is the representative scheduling priority, computed once when the
// buffer enqueues the sequence and immutable thereafter.
func (s *Sequence) Priority() float64 { return s.priority }

// SetPriority fixes the representative priority. Used by the buffer on
// enqueue and by the recovery store on reload.
func (s *Sequence) SetPriority(p float64) { s.priority = p }

// HasMotion reports whether any frame in the sequence carries MOTION status.
// A sequence without one holds no scoring signal and is discarded on close.
func (s *Sequence) HasMotion() bool {
	for _, f := range s.frames {
		if f.Frame.Status == camera.StatusMotion {
			return true
		}
	}
	return false
}

// Labelled reports whether every frame has received a label.
func (s *Sequence) Labelled() bool { return s.labelled }

// label assigns val to the given frames, retires their priority so they are
// never inspected again, and refreshes the all-labelled flag.
func (s *Sequence) label(frames []*LabelledFrame, val Label) {
	for _, f := range frames {
		f.Label = val
		f.Priority = camera.NeverInspect
	}
	for _, f := range s.frames {
		if f.Label == LabelUnknown {
			s.labelled = false
			return
		}
	}
	s.labelled = true
}

// HighestPriorityUnlabelled returns the unlabelled MOTION frame with the
// highest priority, or nil when no inspectable frame remains. STILL frames
// carry camera.NeverInspect and can never win.
func (s *Sequence) HighestPriorityUnlabelled() *LabelledFrame {
	var best *LabelledFrame
	for _, f := range s.frames {
		if best == nil || f.Priority > best.Priority {
			best = f
		}
	}
	if best == nil || best.Frame.Status != camera.StatusMotion || best.Label != LabelUnknown {
		return nil
	}
	return best
}

// LabelAnimal marks the frame and runLength neighbours on each side as
// animal without further detector calls. The run length is how many frames
// an animal of the configured size and speed is expected to stay in view.
func (s *Sequence) LabelAnimal(frame *LabelledFrame, runLength int) {
	start := frame.Index - runLength
	if start < 0 {
		start = 0
	}
	stop := frame.Index + runLength + 1
	if stop > len(s.frames) {
		stop = len(s.frames)
	}
	s.label(s.frames[start:stop], LabelAnimal)
}

// LabelHuman marks only the given frame as containing a human. No smoothing:
// human frames must never be inflated into neighbours that were not checked.
func (s *Sequence) LabelHuman(frame *LabelledFrame) {
	s.label([]*LabelledFrame{frame}, LabelHuman)
}

// LabelEmpty marks only the given frame as empty.
func (s *Sequence) LabelEmpty(frame *LabelledFrame) {
	s.label([]*LabelledFrame{frame}, LabelEmpty)
}

// CloseGaps re-labels short runs of empty/unknown frames between animal
// detections as animal. A gap of at most twice the run length is judged
// unlikely to be a real absence.
func (s *Sequence) CloseGaps(runLength int) {
	lastAnimal := -1
	gap := 0
	for i, f := range s.frames {
		switch {
		case f.Label == LabelAnimal:
			if lastAnimal >= 0 && gap > 0 && gap <= runLength*2 {
				s.label(s.frames[i-gap:i], LabelAnimal)
			}
			lastAnimal = i
			gap = 0
		case f.Label == LabelEmpty || f.Label == LabelUnknown:
			if lastAnimal >= 0 {
				gap++
			}
		}
	}
}

// AddContext labels up to contextLen frames before the first and after the
// last animal frame as context, to give delivered clips a run-in and
// trail-off. Call after CloseGaps, just before handing the sequence on.
func (s *Sequence) AddContext(contextLen int) {
	first, last := s.animalBounds()
	if first < 0 {
		return
	}

	start := first - contextLen
	if start < 0 {
		start = 0
	}
	s.label(s.frames[start:first], LabelContext)

	stop := last + 1 + contextLen
	if stop > len(s.frames) {
		stop = len(s.frames)
	}
	s.label(s.frames[last+1:stop], LabelContext)
}

func (s *Sequence) animalBounds() (first, last int) {
	first, last = -1, -1
	for i, f := range s.frames {
		if f.Label == LabelAnimal {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

// AnimalFrames returns the frames labelled animal, in capture order.
func (s *Sequence) AnimalFrames() []*LabelledFrame {
	return s.filter(func(l Label) bool { return l == LabelAnimal })
}

// AnimalOrContextFrames returns the deliverable frames (animal plus
// context), in capture order.
func (s *Sequence) AnimalOrContextFrames() []*LabelledFrame {
	return s.filter(func(l Label) bool { return l == LabelAnimal || l == LabelContext })
}

// HasHuman reports whether any frame was labelled human.
func (s *Sequence) HasHuman() bool {
	return len(s.filter(func(l Label) bool { return l == LabelHuman })) > 0
}

func (s *Sequence) filter(keep func(Label) bool) []*LabelledFrame {
	var out []*LabelledFrame
	for _, f := range s.frames {
		if keep(f.Label) {
			out = append(out, f)
		}
	}
	return out
}
