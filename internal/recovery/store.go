// Package recovery makes in-flight motion sequences durable so a crash or
// restart between capture and delivery never silently drops work. Sequences
// are mirrored into a sqlite database keyed by sequence ID; frame images are
// spooled to disk and referenced by path so a sequence can be reconstructed
// without re-scoring raw video.
package recovery

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/fernwatch/camtrap/internal/camera"
	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/security"
	"github.com/fernwatch/camtrap/internal/sequence"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable mirror of open and queued sequences. Writes triggered
// from the capture path are queued onto an internal writer goroutine so the
// real-time stage never waits on sqlite.
type Store struct {
	db       *sql.DB
	spoolDir string

	writes chan *record
	done   chan struct{}
}

// record is the snapshot taken synchronously when a sequence becomes
// persist-worthy; the writer goroutine owns it afterwards, so persistence
// never races with the scheduler mutating the live sequence.
type record struct {
	id        string
	startedAt time.Time
	priority  float64
	recovered bool
	frames    []frameRecord
}

type frameRecord struct {
	idx        int
	capturedAt time.Time
	imageRef   string
	image      []byte
	status     camera.MotionStatus
	priority   float64
	label      sequence.Label
}

// Open opens (creating if needed) the store at dbPath, applies pending
// schema migrations and prepares the image spool directory. An unreadable
// store is a fatal startup condition and is returned as an error.
func Open(dbPath, spoolDir string) (*Store, error) {
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		spoolDir: spoolDir,
		writes:   make(chan *record, 16),
		done:     make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to build migrator: %w", err)
	}
	// Note: m is not closed here because that would close the underlying DB
	// connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close stops the writer goroutine and closes the database.
func (s *Store) Close() error {
	close(s.writes)
	<-s.done
	return s.db.Close()
}

// SequenceClosed implements sequence.Persister. It snapshots the sequence
// and hands it to the writer without blocking; under write backlog the
// snapshot is dropped with a warning rather than stalling capture.
func (s *Store) SequenceClosed(seq *sequence.Sequence) {
	s.enqueue(seq)
}

// Checkpoint implements sequence.Persister for long open sequences.
func (s *Store) Checkpoint(seq *sequence.Sequence) {
	s.enqueue(seq)
}

func (s *Store) enqueue(seq *sequence.Sequence) {
	select {
	case s.writes <- snapshot(seq):
	default:
		monitoring.Logf("recovery write queue full, dropping checkpoint for sequence %s", seq.ID)
	}
}

func snapshot(seq *sequence.Sequence) *record {
	rec := &record{
		id:        seq.ID,
		startedAt: seq.StartedAt,
		priority:  seq.Priority(),
		recovered: seq.Recovered,
	}
	for _, f := range seq.Frames() {
		rec.frames = append(rec.frames, frameRecord{
			idx:        f.Index,
			capturedAt: f.Frame.Timestamp,
			imageRef:   f.Frame.ImageRef,
			image:      f.Frame.Image,
			status:     f.Frame.Status,
			priority:   f.Priority,
			label:      f.Label,
		})
	}
	return rec
}

func (s *Store) writer() {
	defer close(s.done)
	for rec := range s.writes {
		if err := s.save(rec); err != nil {
			// Resource-exhaustion class: log and carry on, capture must not halt.
			monitoring.Logf("recovery write failed for sequence %s: %v", rec.id, err)
		}
	}
}

// SaveSequence persists the sequence synchronously. Used by the shutdown
// drain and by tests; the capture path goes through SequenceClosed instead.
func (s *Store) SaveSequence(seq *sequence.Sequence) error {
	return s.save(snapshot(seq))
}

func (s *Store) save(rec *record) error {
	if err := s.spool(rec); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sequences (id, started_at, priority, recovered, delivered, updated_at)
		VALUES (?, ?, ?, ?, 0, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			priority = excluded.priority,
			recovered = excluded.recovered,
			updated_at = CURRENT_TIMESTAMP`,
		rec.id, rec.startedAt.UnixNano(), rec.priority, rec.recovered)
	if err != nil {
		return fmt.Errorf("failed to upsert sequence: %w", err)
	}

	for _, f := range rec.frames {
		_, err = tx.Exec(`
			INSERT INTO frames (sequence_id, idx, captured_at, image_ref, status, priority, label)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(sequence_id, idx) DO UPDATE SET
				image_ref = excluded.image_ref,
				priority = excluded.priority,
				label = excluded.label`,
			rec.id, f.idx, f.capturedAt.UnixNano(), f.imageRef, int(f.status), f.priority, int(f.label))
		if err != nil {
			return fmt.Errorf("failed to upsert frame %d: %w", f.idx, err)
		}
	}

	return tx.Commit()
}

// spool writes image payloads that only exist in memory out to the spool
// directory and records the resulting path in the frame record.
func (s *Store) spool(rec *record) error {
	dir := filepath.Join(s.spoolDir, rec.id)
	for i := range rec.frames {
		f := &rec.frames[i]
		if f.imageRef != "" || len(f.image) == 0 {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create sequence spool dir: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%05d.jpg", f.idx))
		if err := os.WriteFile(path, f.image, 0o644); err != nil {
			return fmt.Errorf("failed to spool frame image: %w", err)
		}
		f.imageRef = path
	}
	return nil
}

// MarkDelivered flags the sequence's event as handed to the sink. The record
// stays until Delete so a crash here costs at most a duplicate delivery.
func (s *Store) MarkDelivered(id string) error {
	_, err := s.db.Exec(`UPDATE sequences SET delivered = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark sequence delivered: %w", err)
	}
	return nil
}

// Delete removes the persisted record and its spooled images.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sequences WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete sequence record: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.spoolDir, id)); err != nil {
		monitoring.Logf("failed to remove spool dir for sequence %s: %v", id, err)
	}
	return nil
}

// LoadUndelivered reconstructs every sequence not yet fully delivered,
// highest priority first. Reloaded sequences are flagged Recovered so the
// buffer schedules them ahead of newly captured work.
func (s *Store) LoadUndelivered() ([]*sequence.Sequence, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, priority FROM sequences
		WHERE delivered = 0
		ORDER BY priority DESC, started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered sequences: %w", err)
	}
	defer rows.Close()

	type head struct {
		id        string
		startedAt int64
		priority  float64
	}
	var heads []head
	for rows.Next() {
		var h head
		if err := rows.Scan(&h.id, &h.startedAt, &h.priority); err != nil {
			return nil, fmt.Errorf("failed to scan sequence row: %w", err)
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*sequence.Sequence
	for _, h := range heads {
		seq, err := s.loadFrames(h.id)
		if err != nil {
			return nil, err
		}
		seq.Recovered = true
		seq.SetPriority(h.priority)
		out = append(out, seq)
	}
	return out, nil
}

func (s *Store) loadFrames(id string) (*sequence.Sequence, error) {
	rows, err := s.db.Query(`
		SELECT idx, captured_at, image_ref, status, priority, label
		FROM frames WHERE sequence_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames for sequence %s: %w", id, err)
	}
	defer rows.Close()

	seq := sequence.Rebuild(id)
	for rows.Next() {
		var (
			idx        int
			capturedAt int64
			imageRef   string
			status     int
			priority   float64
			label      int
		)
		if err := rows.Scan(&idx, &capturedAt, &imageRef, &status, &priority, &label); err != nil {
			return nil, fmt.Errorf("failed to scan frame row: %w", err)
		}
		// Image references come from the database; never follow one outside
		// the spool.
		if imageRef != "" {
			if err := security.ValidatePathWithinDirectory(imageRef, s.spoolDir); err != nil {
				return nil, fmt.Errorf("sequence %s frame %d: %w", id, idx, err)
			}
		}
		lf := seq.Append(camera.Frame{
			Timestamp: time.Unix(0, capturedAt),
			ImageRef:  imageRef,
			Status:    camera.MotionStatus(status),
			Priority:  priority,
		})
		lf.Priority = priority
		lf.Label = sequence.Label(label)
	}
	return seq, rows.Err()
}

// Summary is one undelivered record as shown by the events CLI.
type Summary struct {
	ID        string
	StartedAt time.Time
	Priority  float64
	Frames    int
	Delivered bool
}

// ListUndelivered returns summaries of records not yet deleted, for operator
// inspection.
func (s *Store) ListUndelivered() ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.started_at, s.priority, s.delivered, COUNT(f.idx)
		FROM sequences s LEFT JOIN frames f ON f.sequence_id = s.id
		GROUP BY s.id ORDER BY s.started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			startedAt int64
			delivered int
		)
		if err := rows.Scan(&sum.ID, &startedAt, &sum.Priority, &delivered, &sum.Frames); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		sum.StartedAt = time.Unix(0, startedAt)
		sum.Delivered = delivered == 1
		out = append(out, sum)
	}
	return out, rows.Err()
}
