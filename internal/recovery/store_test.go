package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/sequence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "camtrap.db"), filepath.Join(dir, "spool"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSequence(t *testing.T) *sequence.Sequence {
	t.Helper()
	seq := sequence.New()
	base := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		seq.Append(camera.Frame{
			Timestamp: base.Add(time.Duration(i) * 50 * time.Millisecond),
			Image:     []byte("jpeg-" + string(rune('a'+i))),
			Status:    camera.StatusMotion,
			Score:     float64(400 + i),
			Priority:  float64(400 + i),
		})
	}
	seq.SetPriority(403)
	return seq
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seq := sampleSequence(t)
	seq.LabelAnimal(seq.Frames()[1], 1)

	if err := s.SaveSequence(seq); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadUndelivered()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d sequences, want 1", len(loaded))
	}

	got := loaded[0]
	if got.ID != seq.ID {
		t.Fatalf("loaded ID %s, want %s", got.ID, seq.ID)
	}
	if !got.Recovered {
		t.Fatal("loaded sequence not flagged recovered")
	}
	if got.Priority() != seq.Priority() {
		t.Fatalf("loaded priority %v, want %v", got.Priority(), seq.Priority())
	}
	if got.Len() != seq.Len() {
		t.Fatalf("loaded %d frames, want %d", got.Len(), seq.Len())
	}
	for i, f := range got.Frames() {
		want := seq.Frames()[i]
		if f.Label != want.Label {
			t.Errorf("frame %d label %v, want %v", i, f.Label, want.Label)
		}
		if !f.Frame.Timestamp.Equal(want.Frame.Timestamp) {
			t.Errorf("frame %d timestamp %v, want %v", i, f.Frame.Timestamp, want.Frame.Timestamp)
		}
		if f.Frame.ImageRef == "" {
			t.Errorf("frame %d has no spooled image reference", i)
		}
	}
}

func TestSpooledImagesSurviveOnDisk(t *testing.T) {
	s := openTestStore(t)
	seq := sampleSequence(t)
	if err := s.SaveSequence(seq); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadUndelivered()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, f := range loaded[0].Frames() {
		data, err := os.ReadFile(f.Frame.ImageRef)
		if err != nil {
			t.Fatalf("frame %d spool read: %v", i, err)
		}
		if want := seq.Frames()[i].Frame.Image; string(data) != string(want) {
			t.Fatalf("frame %d spooled bytes differ", i)
		}
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	seq := sampleSequence(t)

	if err := s.SaveSequence(seq); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// A checkpoint followed by the close writes the same record twice; the
	// second write upserts rather than erroring.
	seq.LabelAnimal(seq.Frames()[0], 0)
	if err := s.SaveSequence(seq); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := s.LoadUndelivered()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d sequences after double save, want 1", len(loaded))
	}
	if loaded[0].Frames()[0].Label != sequence.LabelAnimal {
		t.Fatal("second save did not update frame label")
	}
}

func TestDeliveredSequencesAreNotReloaded(t *testing.T) {
	s := openTestStore(t)
	seq := sampleSequence(t)
	if err := s.SaveSequence(seq); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.MarkDelivered(seq.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	loaded, err := s.LoadUndelivered()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("delivered sequence reloaded (%d sequences)", len(loaded))
	}

	// The record itself survives until Delete, so the duplicate-delivery
	// window after a crash is visible in the listing.
	summaries, err := s.ListUndelivered()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || !summaries[0].Delivered {
		t.Fatalf("expected one delivered summary, got %+v", summaries)
	}
}

func TestDeleteRemovesRecordAndSpool(t *testing.T) {
	s := openTestStore(t)
	seq := sampleSequence(t)
	if err := s.SaveSequence(seq); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, _ := s.LoadUndelivered()
	spooled := loaded[0].Frames()[0].Frame.ImageRef

	if err := s.Delete(seq.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(spooled); !os.IsNotExist(err) {
		t.Fatalf("spooled image still present after delete: %v", err)
	}
	summaries, err := s.ListUndelivered()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("record survived delete: %+v", summaries)
	}
}

func TestLoadOrdersByPriority(t *testing.T) {
	s := openTestStore(t)

	low := sampleSequence(t)
	low.SetPriority(100)
	high := sampleSequence(t)
	high.SetPriority(900)

	if err := s.SaveSequence(low); err != nil {
		t.Fatalf("save low: %v", err)
	}
	if err := s.SaveSequence(high); err != nil {
		t.Fatalf("save high: %v", err)
	}

	loaded, err := s.LoadUndelivered()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != high.ID {
		t.Fatalf("expected high-priority sequence first, got %+v", loaded)
	}
}

func TestAsyncCloseNotificationPersists(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "camtrap.db")
	spoolDir := filepath.Join(dir, "spool")

	s, err := Open(dbPath, spoolDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	seq := sampleSequence(t)

	s.SequenceClosed(seq)
	// The write happens on the store's writer goroutine; Close flushes the
	// queue before returning.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen on the same paths: the record must have survived the restart.
	s2, err := Open(dbPath, spoolDir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()

	loaded, err := s2.LoadUndelivered()
	if err != nil {
		t.Fatalf("load after restart: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != seq.ID {
		t.Fatalf("async close not durable: loaded %d sequences", len(loaded))
	}
}
