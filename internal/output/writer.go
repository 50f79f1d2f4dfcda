package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fernwatch/camtrap/internal/security"
	"github.com/fernwatch/camtrap/internal/sequence"
)

// WriterConfig configures the local-disk sink.
type WriterConfig struct {
	// Path is the root directory events are written under.
	Path string

	// Format selects stills or a single clip per event.
	Format Format
}

// Writer persists events to local storage: one directory per event holding
// the images (or clip) and a meta.json with labels and sensor captions.
type Writer struct {
	cfg WriterConfig
}

// NewWriter builds the disk sink and ensures the output root exists.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Path == "" {
		cfg.Path = "output"
	}
	if cfg.Format == "" {
		cfg.Format = FormatStills
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{cfg: cfg}, nil
}

// Deliver writes the event. The directory name carries the capture time so
// listings sort chronologically.
func (w *Writer) Deliver(_ context.Context, ev *Event) error {
	frames := ev.Sequence.AnimalOrContextFrames()
	if len(frames) == 0 {
		return fmt.Errorf("event %s has no deliverable frames", ev.ID)
	}

	// Event IDs reach here from the recovery database, so sanitise before
	// embedding them into a path.
	id := security.SanitizeFilename(ev.ID)
	if len(id) > 8 {
		id = id[:8]
	}
	dir := filepath.Join(w.cfg.Path,
		fmt.Sprintf("event_%s_%s", ev.Sequence.StartedAt.UTC().Format("20060102-150405"), id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create event directory: %w", err)
	}

	switch w.cfg.Format {
	case FormatVideo:
		if err := w.writeClip(dir, frames); err != nil {
			return err
		}
	default:
		if err := w.writeStills(dir, frames); err != nil {
			return err
		}
	}

	return w.writeMeta(dir, ev, frames)
}

func (w *Writer) writeStills(dir string, frames []*sequence.LabelledFrame) error {
	for i, f := range frames {
		img, err := frameImage(f)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, fmt.Sprintf("%05d_%s.jpg", i, f.Label))
		if err := os.WriteFile(name, img, 0o644); err != nil {
			return fmt.Errorf("failed to write still: %w", err)
		}
	}
	return nil
}

// writeClip concatenates the frames' JPEGs into one MJPEG clip. Raw JPEG
// concatenation is a valid motion-JPEG stream, which keeps the writer free
// of any codec dependency on the target board.
func (w *Writer) writeClip(dir string, frames []*sequence.LabelledFrame) error {
	clip, err := os.Create(filepath.Join(dir, "clip.mjpeg"))
	if err != nil {
		return fmt.Errorf("failed to create clip: %w", err)
	}
	defer clip.Close()

	for _, f := range frames {
		img, err := frameImage(f)
		if err != nil {
			return err
		}
		if _, err := clip.Write(img); err != nil {
			return fmt.Errorf("failed to write clip: %w", err)
		}
	}
	return clip.Sync()
}

type eventMeta struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"started_at"`
	AssembledAt time.Time       `json:"assembled_at"`
	Priority    float64         `json:"priority"`
	Frames      int             `json:"frames"`
	AnimalCount int             `json:"animal_frames"`
	Labels      []string        `json:"labels"`
	Captions    json.RawMessage `json:"captions"`
}

func (w *Writer) writeMeta(dir string, ev *Event, frames []*sequence.LabelledFrame) error {
	captions, err := MarshalCaptions(frames, ev.SensorLog)
	if err != nil {
		return fmt.Errorf("failed to marshal captions: %w", err)
	}

	labels := make([]string, len(frames))
	for i, f := range frames {
		labels[i] = f.Label.String()
	}

	meta := eventMeta{
		ID:          ev.ID,
		StartedAt:   ev.Sequence.StartedAt,
		AssembledAt: ev.AssembledAt,
		Priority:    ev.Sequence.Priority(),
		Frames:      len(frames),
		AnimalCount: len(ev.Sequence.AnimalFrames()),
		Labels:      labels,
		Captions:    captions,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write event meta: %w", err)
	}
	return nil
}

// frameImage yields the frame's image bytes, reading from the spool when the
// payload is no longer in memory.
func frameImage(f *sequence.LabelledFrame) ([]byte, error) {
	if len(f.Frame.Image) > 0 {
		return f.Frame.Image, nil
	}
	if f.Frame.ImageRef == "" {
		return nil, fmt.Errorf("frame %d has no image payload or reference", f.Index)
	}
	img, err := os.ReadFile(f.Frame.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read spooled image: %w", err)
	}
	return img, nil
}
