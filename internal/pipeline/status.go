package pipeline

import (
	"sync"
	"time"
)

// Status is a point-in-time snapshot of the pipeline, served by the HTTP API.
type Status struct {
	FramesSeen         uint64  `json:"frames_seen"`
	SequenceOpen       bool    `json:"sequence_open"`
	QueueDepth         int     `json:"queue_depth"`
	ClosedNatural      uint64  `json:"closed_natural"`
	ClosedTimeout      uint64  `json:"closed_timeout"`
	Discarded          uint64  `json:"discarded"`
	Recovered          int     `json:"recovered"`
	Inferences         uint64  `json:"inferences"`
	MeanInferMillis    float64 `json:"mean_infer_ms"`
	EventsDelivered    uint64  `json:"events_delivered"`
	DeliveriesFailed   uint64  `json:"deliveries_failed"`
	SensorLogsBuffered int     `json:"sensor_logs_buffered"`
}

// Status collects counters from every stage. Safe to call from any goroutine.
func (p *Pipeline) Status() Status {
	natural, timeout, discarded := p.buffer.Stats()
	inferences, meanMS := p.scheduler.Stats()
	delivered, failed := p.assembler.Stats()
	return Status{
		FramesSeen:         p.framesSeen.Load(),
		SequenceOpen:       p.buffer.Open(),
		QueueDepth:         p.buffer.Ready(),
		ClosedNatural:      natural,
		ClosedTimeout:      timeout,
		Discarded:          discarded,
		Recovered:          p.recovered,
		Inferences:         inferences,
		MeanInferMillis:    meanMS,
		EventsDelivered:    delivered,
		DeliveriesFailed:   failed,
		SensorLogsBuffered: p.logs.Buffered(),
	}
}

// ScorePoint is one motion score sample, kept for the debug chart.
type ScorePoint struct {
	At    time.Time `json:"at"`
	Score float64   `json:"score"`
}

// RecentScores returns the most recent motion scores, oldest first.
func (p *Pipeline) RecentScores() []ScorePoint {
	return p.scores.snapshot()
}

// scoreRing is a fixed-size ring of recent motion scores. The intake path
// appends on every frame, so writes take the lock briefly and never allocate
// once the ring is full.
type scoreRing struct {
	mu   sync.Mutex
	buf  []ScorePoint
	next int
	full bool
}

func newScoreRing(size int) *scoreRing {
	return &scoreRing{buf: make([]ScorePoint, size)}
}

func (r *scoreRing) add(at time.Time, score float64) {
	r.mu.Lock()
	r.buf[r.next] = ScorePoint{At: at, Score: score}
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

func (r *scoreRing) snapshot() []ScorePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]ScorePoint, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]ScorePoint, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
