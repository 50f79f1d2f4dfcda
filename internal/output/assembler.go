package output

import (
	"context"
	"sync"
	"time"

	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/sensorboard"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// Recorder is the slice of the recovery store the assembler needs: marking
// an event handed off and deleting its record afterwards.
type Recorder interface {
	MarkDelivered(id string) error
	Delete(id string) error
}

// Assembler is the output worker. It runs separately from detection so a
// slow disk or network sink can never stall the scheduler.
type Assembler struct {
	in       <-chan *sequence.Sequence
	logs     *sensorboard.Logs
	sink     Sink
	recorder Recorder

	mu        sync.Mutex
	delivered uint64
	failed    uint64
}

// NewAssembler wires the assembler. logs and recorder may be nil.
func NewAssembler(in <-chan *sequence.Sequence, logs *sensorboard.Logs, sink Sink, recorder Recorder) *Assembler {
	return &Assembler{in: in, logs: logs, sink: sink, recorder: recorder}
}

// Run assembles and delivers events until the input channel closes or the
// context is cancelled.
func (a *Assembler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seq, ok := <-a.in:
			if !ok {
				return
			}
			a.Assemble(ctx, seq)
		}
	}
}

// Assemble fuses the sequence with its nearest sensor log, delivers the
// event and retires the recovery record on success. A failed delivery keeps
// the record so the event is retried after the next start; a crash between
// hand-off and record deletion costs at most a duplicate.
func (a *Assembler) Assemble(ctx context.Context, seq *sequence.Sequence) {
	ev := &Event{
		ID:          seq.ID,
		Sequence:    seq,
		SensorLog:   a.matchSensorLog(seq),
		AssembledAt: time.Now(),
	}

	if err := a.sink.Deliver(ctx, ev); err != nil {
		monitoring.Logf("failed to deliver event %s (will retry after restart): %v", ev.ID, err)
		a.mu.Lock()
		a.failed++
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.delivered++
	a.mu.Unlock()
	monitoring.Logf("delivered event %s (%d frames, %d animal)",
		ev.ID, seq.Len(), len(seq.AnimalFrames()))

	if a.recorder != nil {
		if err := a.recorder.MarkDelivered(seq.ID); err != nil {
			monitoring.Logf("failed to mark event %s delivered: %v", seq.ID, err)
		}
		if err := a.recorder.Delete(seq.ID); err != nil {
			monitoring.Logf("failed to delete recovery record for event %s: %v", seq.ID, err)
		}
	}
}

// matchSensorLog looks up the reading nearest the midpoint of the delivered
// span. Outside the max-age window the event simply carries no sensor data.
func (a *Assembler) matchSensorLog(seq *sequence.Sequence) *sensorboard.SensorLog {
	if a.logs == nil {
		return nil
	}
	frames := seq.AnimalOrContextFrames()
	if len(frames) == 0 {
		return nil
	}
	return a.logs.Get(frames[len(frames)/2].Frame.Timestamp)
}

// Stats returns lifetime delivery counters.
func (a *Assembler) Stats() (delivered, failed uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delivered, a.failed
}
