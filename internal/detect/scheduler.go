package detect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// SchedulerConfig tunes the detection stage.
type SchedulerConfig struct {
	// AnimalThreshold and HumanThreshold are the confidence levels at and
	// above which a detection counts.
	AnimalThreshold float32
	HumanThreshold  float32

	// DetectHumans enables the human class. Human frames are excluded from
	// delivered events.
	DetectHumans bool

	// SubsampleFraction bounds detector invocations per sequence: at most
	// ceil(len · fraction) candidate frames are inspected. Zero or negative
	// inspects only the middle frame.
	SubsampleFraction float64

	// RunLength is the per-side smoothing radius in frames (see RunLength).
	RunLength int

	// ContextFrames is how many unlabelled frames either side of the animal
	// span are included in the output as run-in/trail-off context.
	ContextFrames int

	// PopTimeout bounds how long one queue wait blocks before rechecking
	// for shutdown.
	PopTimeout time.Duration

	// InferTimeout bounds a single detector call. Zero means no bound.
	InferTimeout time.Duration
}

// Scheduler is the detection worker. It pops sequences from the buffer in
// priority order, labels them via the detector and hands sequences with
// animal content to the output channel. It has no real-time deadline and is
// allowed to fall behind capture; the priority queue makes that degradation
// graceful.
type Scheduler struct {
	cfg      SchedulerConfig
	buffer   *sequence.Buffer
	detector Detector
	out      chan<- *sequence.Sequence

	// OnDiscard, when set, is called for sequences that finished detection
	// with no animal content, so their recovery records can be removed.
	OnDiscard func(*sequence.Sequence)

	mu          sync.Mutex
	inferCount  uint64
	meanInferMS float64
}

// NewScheduler wires a scheduler to its buffer, detector and output channel.
func NewScheduler(cfg SchedulerConfig, buf *sequence.Buffer, det Detector, out chan<- *sequence.Sequence) *Scheduler {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	if cfg.RunLength < 1 {
		cfg.RunLength = 1
	}
	return &Scheduler{cfg: cfg, buffer: buf, detector: det, out: out}
}

// Run drains the buffer until the context is cancelled. It returns a non-nil
// error only on systemic detector failure.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		seq, ok := s.buffer.Pop(s.cfg.PopTimeout)
		if !ok {
			continue
		}
		if err := s.Process(ctx, seq); err != nil {
			return fmt.Errorf("detection scheduler stopping: %w", err)
		}
	}
}

// Drain processes everything already queued, without waiting for more. Used
// by the shutdown path, bounded by the caller's context deadline.
func (s *Scheduler) Drain(ctx context.Context) error {
	for s.buffer.Ready() > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seq, ok := s.buffer.Pop(time.Millisecond)
		if !ok {
			return nil
		}
		if err := s.Process(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

// Process labels one sequence and routes it to the output channel or the
// discard hook.
func (s *Scheduler) Process(ctx context.Context, seq *sequence.Sequence) error {
	start := time.Now()
	inferences, err := s.label(ctx, seq)
	if err != nil {
		return err
	}

	seq.CloseGaps(s.cfg.RunLength)
	seq.AddContext(s.cfg.ContextFrames)
	// Residual frames never reached under the subsample cap default to
	// empty: a recall/latency trade, not an error.
	for _, f := range seq.Frames() {
		if f.Label == sequence.LabelUnknown {
			seq.LabelEmpty(f)
		}
	}

	animal := len(seq.AnimalFrames())
	monitoring.Logf("sequence %s: %d frames, %d inferences, %d animal frames in %.1fs",
		seq.ID, seq.Len(), inferences, animal, time.Since(start).Seconds())

	if animal == 0 {
		if s.OnDiscard != nil {
			s.OnDiscard(seq)
		}
		return nil
	}

	select {
	case s.out <- seq:
	case <-ctx.Done():
		return nil
	}
	return nil
}

// label runs the detector over the candidate frames of the sequence,
// spreading confirmed detections by the run length. Returns the number of
// detector invocations made.
func (s *Scheduler) label(ctx context.Context, seq *sequence.Sequence) (int, error) {
	inferences := 0
	for _, f := range s.candidates(seq) {
		// Propagation may have labelled this frame since the candidate set
		// was chosen; a labelled frame is never re-scored.
		if f.Label != sequence.LabelUnknown || f.Frame.Status != camera.StatusMotion {
			continue
		}

		res, err := s.infer(ctx, f.Frame)
		inferences++
		if err != nil {
			if errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
				return inferences, err
			}
			// Fail open: a single failed inference costs at most one
			// under-reported frame; it must not stall the queue.
			monitoring.Logf("detector error on sequence %s frame %d (treating as empty): %v",
				seq.ID, f.Index, err)
			seq.LabelEmpty(f)
			continue
		}

		isHuman := s.cfg.DetectHumans && res.HumanConfidence >= s.cfg.HumanThreshold
		switch {
		case isHuman:
			seq.LabelHuman(f)
		case res.AnimalConfidence >= s.cfg.AnimalThreshold:
			seq.LabelAnimal(f, s.cfg.RunLength)
		default:
			seq.LabelEmpty(f)
		}
	}
	s.recordInferences(inferences)
	return inferences, nil
}

// candidates picks the frames the detector may be invoked on: evenly spaced
// across the sequence, capped by the subsample fraction, visited in priority
// order so the strongest motion is checked first. STILL frames are never
// candidates.
func (s *Scheduler) candidates(seq *sequence.Sequence) []*sequence.LabelledFrame {
	frames := seq.Frames()
	n := len(frames)
	if n == 0 {
		return nil
	}

	var picked []*sequence.LabelledFrame
	if s.cfg.SubsampleFraction <= 0 {
		picked = append(picked, frames[n/2])
	} else {
		count := int(math.Ceil(float64(n) * s.cfg.SubsampleFraction))
		if count > n {
			count = n
		}
		seen := make(map[int]bool, count)
		for i := 0; i < count; i++ {
			idx := 0
			if count > 1 {
				idx = int(math.Round(float64(i) * float64(n-1) / float64(count-1)))
			} else {
				idx = n / 2
			}
			if !seen[idx] {
				seen[idx] = true
				picked = append(picked, frames[idx])
			}
		}
	}

	eligible := picked[:0]
	for _, f := range picked {
		if f.Frame.Status == camera.StatusMotion {
			eligible = append(eligible, f)
		}
	}
	sortByPriority(eligible)
	return eligible
}

func sortByPriority(frames []*sequence.LabelledFrame) {
	// Insertion sort: candidate sets are small (a fraction of one sequence).
	for i := 1; i < len(frames); i++ {
		for j := i; j > 0 && frames[j].Priority > frames[j-1].Priority; j-- {
			frames[j], frames[j-1] = frames[j-1], frames[j]
		}
	}
}

func (s *Scheduler) infer(ctx context.Context, frame camera.Frame) (Result, error) {
	// Recovered frames hold an on-disk reference instead of the image bytes.
	img := frame.Image
	if img == nil && frame.ImageRef != "" {
		var err error
		img, err = os.ReadFile(frame.ImageRef)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read spooled image %s: %w", frame.ImageRef, err)
		}
	}

	if s.cfg.InferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InferTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.detector.Infer(ctx, img)
	if err == nil {
		s.observeLatency(time.Since(start))
	}
	return res, err
}

func (s *Scheduler) observeLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := float64(d.Milliseconds())
	if s.meanInferMS == 0 {
		s.meanInferMS = ms
	} else {
		s.meanInferMS = (s.meanInferMS + ms) / 2
	}
}

func (s *Scheduler) recordInferences(n int) {
	s.mu.Lock()
	s.inferCount += uint64(n)
	s.mu.Unlock()
}

// Stats returns the lifetime inference count and the running mean latency in
// milliseconds.
func (s *Scheduler) Stats() (count uint64, meanMS float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inferCount, s.meanInferMS
}
