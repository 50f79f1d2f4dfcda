// Package pipeline is the composition root: it wires the motion filter,
// sequence buffer, detection scheduler, recovery store, sensor logs and
// output assembler into a fixed set of cooperating workers connected by
// bounded queues. It imports from every stage package; none of them import
// pipeline.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/config"
	"github.com/fernwatch/camtrap/internal/detect"
	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/motion"
	"github.com/fernwatch/camtrap/internal/output"
	"github.com/fernwatch/camtrap/internal/recovery"
	"github.com/fernwatch/camtrap/internal/sensorboard"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// Collaborators are the external systems the pipeline runs between. Source,
// Detector and Sink are required; SensorReader may be nil when no board is
// attached.
type Collaborators struct {
	Source       camera.Source
	Detector     detect.Detector
	Sink         output.Sink
	SensorReader sensorboard.Reader
}

// Pipeline owns the full filtering path from camera frames to delivered
// events.
type Pipeline struct {
	cfg    *config.Config
	collab Collaborators

	filter    *motion.Filter
	buffer    *sequence.Buffer
	store     *recovery.Store
	scheduler *detect.Scheduler
	assembler *output.Assembler
	logs      *sensorboard.Logs

	labelled chan *sequence.Sequence
	scores   *scoreRing

	framesSeen atomic.Uint64
	recovered  int
}

// New wires a pipeline from configuration and collaborators. It opens the
// recovery store; an unreadable store is fatal and returned as an error.
func New(cfg *config.Config, collab Collaborators) (*Pipeline, error) {
	if collab.Source == nil || collab.Detector == nil || collab.Sink == nil {
		return nil, fmt.Errorf("pipeline requires a source, a detector and a sink")
	}

	framerate := collab.Source.Framerate()
	if framerate <= 0 {
		framerate = cfg.GetFramerate()
	}

	filter, err := motion.NewFilter(motion.Config{
		SmallThreshold:   cfg.GetMotionSmallThreshold(),
		ScoreThreshold:   cfg.GetMotionScoreThreshold(),
		IIROrder:         cfg.GetIIROrder(),
		IIRAttenuationDB: cfg.GetIIRAttenuationDB(),
		IIRCutoffHz:      cfg.GetIIRCutoffHz(),
	}, framerate)
	if err != nil {
		return nil, fmt.Errorf("failed to build motion filter: %w", err)
	}

	aggregate, err := sequence.AggregatorByName(cfg.GetPriorityAggregate())
	if err != nil {
		return nil, err
	}

	store, err := recovery.Open(cfg.GetDatabasePath(), cfg.GetSpoolDir())
	if err != nil {
		return nil, fmt.Errorf("recovery store unavailable: %w", err)
	}

	buffer := sequence.NewBuffer(sequence.BufferConfig{
		Framerate:          framerate,
		MaxSequenceSeconds: cfg.GetMaxSequenceSeconds(),
		StillCloseCount:    cfg.GetStillCloseCount(),
		Aggregate:          aggregate,
		CheckpointFrames:   cfg.GetCheckpointFrames(),
	}, store)

	runLength := detect.RunLength(detect.RunLengthParams{
		AnimalSpeedMPS:   cfg.GetAnimalSpeedMPS(),
		VisibleAreaM2:    cfg.GetVisibleAreaM2(),
		SubjectDistanceM: cfg.GetSubjectDistanceM(),
		FocalLengthM:     cfg.GetFocalLengthM(),
		PixelSizeM:       cfg.GetPixelSizeM(),
		SensorPixels:     cfg.GetSensorPixels(),
		ResolutionWidth:  cfg.GetResolutionWidth(),
	}, framerate)

	labelled := make(chan *sequence.Sequence, 4)
	scheduler := detect.NewScheduler(detect.SchedulerConfig{
		AnimalThreshold:   float32(cfg.GetAnimalThreshold()),
		HumanThreshold:    float32(cfg.GetHumanThreshold()),
		DetectHumans:      cfg.GetDetectHumans(),
		SubsampleFraction: cfg.GetSubsampleFraction(),
		RunLength:         runLength,
		ContextFrames:     int(cfg.GetContextSeconds() * float64(framerate)),
		InferTimeout:      cfg.GetInferTimeout(),
	}, buffer, collab.Detector, labelled)
	scheduler.OnDiscard = func(seq *sequence.Sequence) {
		if err := store.Delete(seq.ID); err != nil {
			monitoring.Logf("failed to drop recovery record for empty sequence %s: %v", seq.ID, err)
		}
	}

	logs := sensorboard.NewLogs(sensorboard.LogsConfig{
		Interval:      cfg.GetSensorInterval(),
		MaxAge:        cfg.GetSensorMaxAge(),
		ObfuscationKM: cfg.GetSensorObfuscationKM(),
	}, collab.SensorReader)

	assembler := output.NewAssembler(labelled, logs, collab.Sink, store)

	return &Pipeline{
		cfg:       cfg,
		collab:    collab,
		filter:    filter,
		buffer:    buffer,
		store:     store,
		scheduler: scheduler,
		assembler: assembler,
		logs:      logs,
		labelled:  labelled,
		scores:    newScoreRing(600),
	}, nil
}

// Store exposes the recovery store for the HTTP API and CLI.
func (p *Pipeline) Store() *recovery.Store { return p.store }

// Run executes the pipeline until ctx is cancelled, then drains: capture
// stops, the open sequence is force-closed, the queue is pushed through
// detection and assembly within the drain deadline, and whatever remains is
// already durable in the recovery store. Run returns a non-nil error only on
// systemic failure.
func (p *Pipeline) Run(ctx context.Context) error {
	recovered, err := p.store.LoadUndelivered()
	if err != nil {
		return fmt.Errorf("failed to reload persisted sequences: %w", err)
	}
	for _, seq := range recovered {
		p.buffer.ReinjectRecovered(seq)
	}
	p.recovered = len(recovered)
	if len(recovered) > 0 {
		monitoring.Logf("recovered %d undelivered sequence(s) from previous run", len(recovered))
	}

	// Worker contexts outlive ctx so the drain phase can finish after
	// shutdown is requested.
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	asmCtx, stopAssembler := context.WithCancel(context.Background())
	defer stopAssembler()

	fatal := make(chan error, 1)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := p.scheduler.Run(schedCtx); err != nil {
			fatal <- err
		}
	}()

	asmDone := make(chan struct{})
	go func() {
		defer close(asmDone)
		p.assembler.Run(asmCtx)
	}()

	go p.logs.Run(asmCtx)

	// Frame intake runs in this goroutine: score, label, buffer. This is
	// the hard real-time path; nothing here blocks.
	frames := p.collab.Source.Frames()
intake:
	for {
		select {
		case <-ctx.Done():
			break intake
		case err := <-fatal:
			p.shutdown(stopScheduler, schedDone, stopAssembler, asmDone)
			return fmt.Errorf("pipeline stopped: %w", err)
		case frame, ok := <-frames:
			if !ok {
				break intake
			}
			p.filter.Apply(&frame)
			p.framesSeen.Add(1)
			p.scores.add(frame.Timestamp, frame.Score)
			p.buffer.Put(frame)
		}
	}

	return p.drain(stopScheduler, schedDone, stopAssembler, asmDone)
}

// drain implements the clean-shutdown contract.
func (p *Pipeline) drain(stopScheduler context.CancelFunc, schedDone <-chan struct{},
	stopAssembler context.CancelFunc, asmDone <-chan struct{}) error {

	p.buffer.ForceClose()

	// Park the scheduler worker so Drain is the only popper.
	stopScheduler()
	<-schedDone

	deadline := time.Now().Add(p.cfg.GetDrainDeadline())
	drainCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	if err := p.scheduler.Drain(drainCtx); err != nil {
		monitoring.Logf("drain incomplete, %d sequence(s) remain persisted: %v", p.buffer.Ready(), err)
	}

	// Let the assembler finish in-flight deliveries, then stop it.
	close(p.labelled)
	select {
	case <-asmDone:
	case <-drainCtx.Done():
		monitoring.Logf("assembler did not finish within drain deadline")
	}
	stopAssembler()
	<-asmDone

	// Queued sequences that were not drained are already durable: the
	// buffer persisted them when they closed. Closing the store flushes its
	// write queue.
	if err := p.store.Close(); err != nil {
		return fmt.Errorf("failed to close recovery store: %w", err)
	}
	return nil
}

func (p *Pipeline) shutdown(stopScheduler context.CancelFunc, schedDone <-chan struct{},
	stopAssembler context.CancelFunc, asmDone <-chan struct{}) {
	stopScheduler()
	<-schedDone
	close(p.labelled)
	stopAssembler()
	<-asmDone
	if err := p.store.Close(); err != nil {
		monitoring.Logf("failed to close recovery store: %v", err)
	}
}
