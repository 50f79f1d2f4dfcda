package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// scriptedDetector returns canned results keyed by frame image content and
// counts invocations.
type scriptedDetector struct {
	results map[string]Result
	err     error
	calls   int
}

func (d *scriptedDetector) Infer(ctx context.Context, image []byte) (Result, error) {
	d.calls++
	if d.err != nil {
		return Result{}, d.err
	}
	if r, ok := d.results[string(image)]; ok {
		return r, nil
	}
	return Result{}, nil
}

func schedCfg() SchedulerConfig {
	return SchedulerConfig{
		AnimalThreshold:   0.2,
		HumanThreshold:    0.8,
		DetectHumans:      true,
		SubsampleFraction: 1.0,
		RunLength:         2,
		PopTimeout:        10 * time.Millisecond,
	}
}

func newTestBuffer() *sequence.Buffer {
	return sequence.NewBuffer(sequence.BufferConfig{Framerate: 20, StillCloseCount: 3}, nil)
}

// motionSequence builds a closed sequence of n motion frames, each frame's
// image holding its index as a tag for the scripted detector.
func motionSequence(n int) *sequence.Sequence {
	s := sequence.New()
	base := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		s.Append(camera.Frame{
			Timestamp: base.Add(time.Duration(i) * 50 * time.Millisecond),
			Image:     []byte{byte(i)},
			Status:    camera.StatusMotion,
			Score:     float64(100 + i),
			Priority:  float64(100 + i),
		})
	}
	s.SetPriority(float64(100 + n - 1))
	return s
}

func TestDetectionSpreadSavesInvocations(t *testing.T) {
	// Ten frames, detection confirms on the highest-priority frame (index
	// 9's neighbours are labelled by spreading), so fewer than ten detector
	// calls are needed even at fraction 1.0.
	det := &scriptedDetector{results: map[string]Result{
		string([]byte{9}): {AnimalConfidence: 0.9},
	}}
	out := make(chan *sequence.Sequence, 1)
	s := NewScheduler(schedCfg(), newTestBuffer(), det, out)

	seq := motionSequence(10)
	if err := s.Process(context.Background(), seq); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Frame 9 is visited first (highest priority) and labels 7..9; frames
	// 0..6 still need visits: 8 calls total, not 10.
	if det.calls != 8 {
		t.Fatalf("detector calls = %d, want 8", det.calls)
	}

	select {
	case got := <-out:
		animal := got.AnimalFrames()
		if len(animal) != 3 {
			t.Fatalf("animal frames = %d, want 3", len(animal))
		}
	default:
		t.Fatal("animal sequence not delivered to output channel")
	}
}

func TestEmptySequenceIsDiscarded(t *testing.T) {
	det := &scriptedDetector{} // everything scores zero
	out := make(chan *sequence.Sequence, 1)
	s := NewScheduler(schedCfg(), newTestBuffer(), det, out)

	var discarded *sequence.Sequence
	s.OnDiscard = func(seq *sequence.Sequence) { discarded = seq }

	seq := motionSequence(5)
	if err := s.Process(context.Background(), seq); err != nil {
		t.Fatalf("process: %v", err)
	}
	if discarded == nil {
		t.Fatal("empty sequence did not hit the discard hook")
	}
	select {
	case <-out:
		t.Fatal("empty sequence was delivered")
	default:
	}
}

func TestSubsampleFractionCapsInvocations(t *testing.T) {
	cfg := schedCfg()
	cfg.SubsampleFraction = 0.3
	det := &scriptedDetector{}
	s := NewScheduler(cfg, newTestBuffer(), det, make(chan *sequence.Sequence, 1))

	seq := motionSequence(10)
	if err := s.Process(context.Background(), seq); err != nil {
		t.Fatalf("process: %v", err)
	}
	// ceil(10 * 0.3) = 3 candidates at most.
	if det.calls > 3 {
		t.Fatalf("detector calls = %d, want <= 3", det.calls)
	}

	// Frames never visited must have been defaulted to empty, not left
	// unknown.
	for i, f := range seq.Frames() {
		if f.Label == sequence.LabelUnknown {
			t.Fatalf("frame %d left unlabelled", i)
		}
	}
}

func TestZeroFractionInspectsMiddleFrameOnly(t *testing.T) {
	cfg := schedCfg()
	cfg.SubsampleFraction = 0
	det := &scriptedDetector{}
	s := NewScheduler(cfg, newTestBuffer(), det, make(chan *sequence.Sequence, 1))

	if err := s.Process(context.Background(), motionSequence(9)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if det.calls != 1 {
		t.Fatalf("detector calls = %d, want 1", det.calls)
	}
}

func TestHumanFramesAreNotSpread(t *testing.T) {
	det := &scriptedDetector{results: map[string]Result{
		string([]byte{4}): {AnimalConfidence: 0.9, HumanConfidence: 0.95},
	}}
	out := make(chan *sequence.Sequence, 1)
	s := NewScheduler(schedCfg(), newTestBuffer(), det, out)

	seq := motionSequence(9)
	if err := s.Process(context.Background(), seq); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Human label wins over animal for the same frame and never spreads.
	if !seq.HasHuman() {
		t.Fatal("human frame not labelled")
	}
	if got := len(seq.AnimalFrames()); got != 0 {
		t.Fatalf("human detection spread into %d animal frames", got)
	}
}

func TestDetectorErrorFailsOpen(t *testing.T) {
	det := &scriptedDetector{err: errors.New("model hiccup")}
	out := make(chan *sequence.Sequence, 1)
	s := NewScheduler(schedCfg(), newTestBuffer(), det, out)

	seq := motionSequence(5)
	if err := s.Process(context.Background(), seq); err != nil {
		t.Fatalf("per-frame detector errors must not abort processing: %v", err)
	}
	for i, f := range seq.Frames() {
		if f.Label != sequence.LabelEmpty {
			t.Fatalf("frame %d label = %v, want empty after fail-open", i, f.Label)
		}
	}
}

func TestUnavailableDetectorIsFatal(t *testing.T) {
	det := &scriptedDetector{err: ErrUnavailable}
	s := NewScheduler(schedCfg(), newTestBuffer(), det, make(chan *sequence.Sequence, 1))

	err := s.Process(context.Background(), motionSequence(5))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRunDrainsBufferUntilCancelled(t *testing.T) {
	det := &scriptedDetector{results: map[string]Result{
		string([]byte{0}): {AnimalConfidence: 0.9},
	}}
	buf := newTestBuffer()
	out := make(chan *sequence.Sequence, 4)
	s := NewScheduler(schedCfg(), buf, det, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Feed one motion episode through the buffer.
	base := time.Now()
	frames := []camera.Frame{
		{Timestamp: base, Image: []byte{0}, Status: camera.StatusMotion, Score: 400, Priority: 400},
		{Timestamp: base.Add(50 * time.Millisecond), Status: camera.StatusStill, Priority: camera.NeverInspect},
		{Timestamp: base.Add(100 * time.Millisecond), Status: camera.StatusStill, Priority: camera.NeverInspect},
		{Timestamp: base.Add(150 * time.Millisecond), Status: camera.StatusStill, Priority: camera.NeverInspect},
	}
	for _, f := range frames {
		buf.Put(f)
	}

	select {
	case seq := <-out:
		if len(seq.AnimalFrames()) == 0 {
			t.Fatal("delivered sequence has no animal frames")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not process the queued sequence")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error on cancel: %v", err)
	}
}
