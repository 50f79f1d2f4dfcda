package sequence

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/monitoring"
)

// Persister is notified when sequence state becomes durable-worthy: on close
// (enqueue) and periodically while a long sequence is still open.
// Implementations must not block; the buffer calls these from the frame
// intake path.
type Persister interface {
	SequenceClosed(*Sequence)
	Checkpoint(*Sequence)
}

// BufferConfig tunes the sequence state machine.
type BufferConfig struct {
	// Framerate of the camera feeding the buffer.
	Framerate int

	// MaxSequenceSeconds bounds one sequence's span. A sequence reaching it
	// is force-closed and a new one opens for any continuing motion, which
	// bounds memory and keeps the scheduler fair.
	MaxSequenceSeconds float64

	// StillCloseCount is the number of consecutive STILL frames after which
	// motion is judged ended and the open sequence closes naturally.
	StillCloseCount int

	// Aggregate reduces frame priorities to the sequence's scheduling
	// priority on enqueue. Defaults to MaxPriority.
	Aggregate Aggregator

	// CheckpointFrames is the open-sequence persistence cadence in frames.
	// Zero disables checkpointing.
	CheckpointFrames int
}

// Buffer implements the per-sequence state machine (idle → open → closed)
// and the priority queue of closed sequences awaiting detection. Put is
// non-blocking and runs on the capture path; Pop blocks with a timeout and
// is called by the detection scheduler. The mutex guards only queue and
// state mutation, never an I/O or detector call.
type Buffer struct {
	cfg       BufferConfig
	persister Persister

	mu              sync.Mutex
	queue           seqHeap
	current         *Sequence
	stillRun        int
	sinceCheckpoint int

	notify chan struct{}

	// Counters for the status surface. Guarded by mu.
	closedNatural uint64
	closedTimeout uint64
	discarded     uint64
}

// NewBuffer builds a Buffer. persister may be nil.
func NewBuffer(cfg BufferConfig, persister Persister) *Buffer {
	if cfg.Framerate <= 0 {
		cfg.Framerate = 20
	}
	if cfg.MaxSequenceSeconds <= 0 {
		cfg.MaxSequenceSeconds = 10
	}
	if cfg.StillCloseCount <= 0 {
		cfg.StillCloseCount = cfg.Framerate / 2
	}
	if cfg.Aggregate == nil {
		cfg.Aggregate = MaxPriority
	}
	return &Buffer{
		cfg:       cfg,
		persister: persister,
		notify:    make(chan struct{}, 1),
	}
}

// maxFrames is the forced-close boundary in frames.
func (b *Buffer) maxFrames() int {
	return int(float64(b.cfg.Framerate) * b.cfg.MaxSequenceSeconds)
}

// Put feeds the next frame in capture order into the state machine. STILL
// frames arriving while idle are dropped immediately; only frames belonging
// to a motion episode are retained.
func (b *Buffer) Put(frame camera.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		if frame.Status != camera.StatusMotion {
			return
		}
		b.current = New()
		b.stillRun = 0
		b.sinceCheckpoint = 0
	}

	b.current.Append(frame)

	if frame.Status == camera.StatusMotion {
		b.stillRun = 0
	} else {
		b.stillRun++
	}

	switch {
	case b.stillRun >= b.cfg.StillCloseCount:
		b.closeLocked(false)
	case b.current.Len() >= b.maxFrames():
		b.closeLocked(true)
	default:
		b.sinceCheckpoint++
		if b.persister != nil && b.cfg.CheckpointFrames > 0 && b.sinceCheckpoint >= b.cfg.CheckpointFrames {
			b.sinceCheckpoint = 0
			b.persister.Checkpoint(b.current)
		}
	}
}

// ForceClose closes any open sequence immediately, e.g. on a capture gap or
// at shutdown.
func (b *Buffer) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked(true)
}

// closeLocked retires the open sequence: discard if it never saw motion,
// otherwise fix its priority and enqueue it. Caller holds mu.
func (b *Buffer) closeLocked(timeout bool) {
	seq := b.current
	b.current = nil
	b.stillRun = 0
	if seq == nil || seq.Len() == 0 {
		return
	}

	if !seq.HasMotion() {
		b.discarded++
		return
	}

	seq.SetPriority(b.cfg.Aggregate(motionPriorities(seq)))
	if timeout {
		b.closedTimeout++
	} else {
		b.closedNatural++
	}

	heap.Push(&b.queue, seq)
	if b.persister != nil {
		b.persister.SequenceClosed(seq)
	}
	b.wake()

	monitoring.Debugf("sequence %s closed (%d frames, priority %.1f, timeout=%v)",
		seq.ID, seq.Len(), seq.Priority(), timeout)
}

// ReinjectRecovered enqueues a sequence reloaded from the recovery store.
// Recovered sequences sort ahead of newly captured ones: they represent
// capture effort already invested.
func (b *Buffer) ReinjectRecovered(seq *Sequence) {
	seq.Recovered = true
	b.mu.Lock()
	heap.Push(&b.queue, seq)
	b.mu.Unlock()
	b.wake()
}

func (b *Buffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the highest-priority closed sequence, blocking up
// to timeout when the queue is empty. The second return is false on timeout.
func (b *Buffer) Pop(timeout time.Duration) (*Sequence, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if b.queue.Len() > 0 {
			seq := heap.Pop(&b.queue).(*Sequence)
			b.mu.Unlock()
			return seq, true
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-deadline.C:
			return nil, false
		}
	}
}

// Peek returns the highest-priority queued sequence without removing it, or
// nil when the queue is empty. The caller must not mutate the result.
func (b *Buffer) Peek() *Sequence {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil
	}
	return b.queue[0]
}

// Ready returns the number of closed sequences awaiting detection.
func (b *Buffer) Ready() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// Open reports whether a sequence is currently open.
func (b *Buffer) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// OpenSequence returns the currently open sequence, or nil. Used by the
// shutdown path to persist in-flight work.
func (b *Buffer) OpenSequence() *Sequence {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Stats returns the buffer's lifetime counters: sequences closed naturally,
// closed by the duration bound, and discarded for lacking motion.
func (b *Buffer) Stats() (natural, timeout, discarded uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closedNatural, b.closedTimeout, b.discarded
}

// seqHeap orders sequences for scheduling: recovered work first, then higher
// priority, then earlier start (FIFO fairness among equals).
type seqHeap []*Sequence

func (h seqHeap) Len() int { return len(h) }

func (h seqHeap) Less(i, j int) bool {
	if h[i].Recovered != h[j].Recovered {
		return h[i].Recovered
	}
	if h[i].Priority() != h[j].Priority() {
		return h[i].Priority() > h[j].Priority()
	}
	return h[i].StartedAt.Before(h[j].StartedAt)
}

func (h seqHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *seqHeap) Push(x interface{}) { *h = append(*h, x.(*Sequence)) }

func (h *seqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	seq := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return seq
}
