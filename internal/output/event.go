// Package output assembles detection-labelled sequences and matched sensor
// data into deliverable events and hands them to the configured sink.
package output

import (
	"context"
	"time"

	"github.com/fernwatch/camtrap/internal/sensorboard"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// Event is the output unit: one labelled sequence plus zero-or-one matched
// sensor log.
type Event struct {
	ID          string
	Sequence    *sequence.Sequence
	SensorLog   *sensorboard.SensorLog
	AssembledAt time.Time
}

// Sink accepts finished events. Writer persists to local disk and Sender
// posts to a server; the variant is selected once at configuration time.
// Delivery failure is non-fatal to the pipeline; retry policy belongs to
// the sink and to the recovery store's record retention.
type Sink interface {
	Deliver(ctx context.Context, ev *Event) error
}

// Format selects the artifact shape produced for an event.
type Format string

const (
	// FormatStills delivers one image per animal or context frame.
	FormatStills Format = "stills"
	// FormatVideo delivers a single clip spanning the sequence.
	FormatVideo Format = "video"
)
