package output

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fernwatch/camtrap/internal/sensorboard"
)

func TestWriterStillsLayout(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(WriterConfig{Path: root, Format: FormatStills})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	start := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	seq := labelledSequence(t, start)
	ev := &Event{ID: seq.ID, Sequence: seq, AssembledAt: time.Now()}

	if err := w.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read output root: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("output root holds %d entries, want 1 event dir", len(entries))
	}
	dir := entries[0].Name()
	if !strings.HasPrefix(dir, "event_20260314-060000_") {
		t.Fatalf("event dir %q does not carry the capture time", dir)
	}

	files, err := os.ReadDir(filepath.Join(root, dir))
	if err != nil {
		t.Fatalf("read event dir: %v", err)
	}
	// labelledSequence yields 3 animal + 2 empty frames; deliverable = 3
	// stills plus meta.json.
	var stills, metas int
	for _, f := range files {
		switch {
		case strings.HasSuffix(f.Name(), ".jpg"):
			stills++
			if !strings.Contains(f.Name(), "_animal") {
				t.Errorf("still %q missing label suffix", f.Name())
			}
		case f.Name() == "meta.json":
			metas++
		}
	}
	if stills != 3 || metas != 1 {
		t.Fatalf("event dir holds %d stills and %d metas, want 3 and 1", stills, metas)
	}
}

func TestWriterClipFormat(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(WriterConfig{Path: root, Format: FormatVideo})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	seq := labelledSequence(t, time.Now())
	ev := &Event{ID: seq.ID, Sequence: seq, AssembledAt: time.Now()}
	if err := w.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(root, "event_*", "clip.mjpeg"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("clip.mjpeg not written: matches=%v err=%v", matches, err)
	}
	clip, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	// The clip is the frames' JPEGs concatenated; the three animal frames
	// each contribute 5 bytes.
	if len(clip) != 15 {
		t.Fatalf("clip length = %d, want 15", len(clip))
	}
}

func TestWriterMetaContents(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(WriterConfig{Path: root})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	seq := labelledSequence(t, time.Now())
	log := &sensorboard.SensorLog{
		SystemTime: time.Now(),
		Readings:   map[string]sensorboard.Reading{"TEMP": {Value: 18, Unit: "C"}},
	}
	ev := &Event{ID: seq.ID, Sequence: seq, SensorLog: log, AssembledAt: time.Now()}
	if err := w.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(root, "event_*", "meta.json"))
	if len(matches) != 1 {
		t.Fatalf("meta.json not written")
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}

	var meta struct {
		ID       string    `json:"id"`
		Frames   int       `json:"frames"`
		Labels   []string  `json:"labels"`
		Captions []Caption `json:"captions"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	if meta.ID != seq.ID || meta.Frames != 3 {
		t.Fatalf("meta = %+v", meta)
	}
	if len(meta.Captions) != 1 || meta.Captions[0].Log.Readings["TEMP"].Value != 18 {
		t.Fatalf("captions = %+v", meta.Captions)
	}
}

func TestWriterRejectsEmptyEvent(t *testing.T) {
	w, err := NewWriter(WriterConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	seq := labelledSequence(t, time.Now())
	for _, f := range seq.Frames() {
		seq.LabelEmpty(f)
	}
	ev := &Event{ID: seq.ID, Sequence: seq}
	if err := w.Deliver(context.Background(), ev); err == nil {
		t.Fatal("expected error delivering event with no deliverable frames")
	}
}

func TestCaptionsEmptyWithoutLog(t *testing.T) {
	seq := labelledSequence(t, time.Now())
	data, err := MarshalCaptions(seq.AnimalOrContextFrames(), nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("captions without log = %s, want []", data)
	}
}
