package sensorboard

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fernwatch/camtrap/internal/monitoring"
)

// Reader produces one reading set per call. *Board is the production
// implementation; tests substitute fakes.
type Reader interface {
	Read() (SensorLog, error)
}

// LogsConfig tunes the sampling worker and the matching window.
type LogsConfig struct {
	// Interval is the sampling period.
	Interval time.Duration

	// MaxAge is the matching window: a log further than this from the
	// queried timestamp never matches and is discarded rather than carried
	// forward.
	MaxAge time.Duration

	// ObfuscationKM quantises location readings (LAT/LON degrees) to a grid
	// of this spacing before they are stored, so published events cannot
	// pinpoint the trap. Zero disables obfuscation.
	ObfuscationKM float64
}

// Logs samples the board on its own timer, decoupled from frame timing, and
// answers nearest-timestamp lookups from the output assembler.
type Logs struct {
	cfg    LogsConfig
	reader Reader

	mu   sync.Mutex
	logs []SensorLog // ordered by SystemTime
}

// NewLogs builds the log buffer. reader may be nil when no board is
// attached; lookups then always return nil and events go out without sensor
// data.
func NewLogs(cfg LogsConfig, reader Reader) *Logs {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * cfg.Interval
	}
	return &Logs{cfg: cfg, reader: reader}
}

// Run samples the board every interval until the context is cancelled.
func (l *Logs) Run(ctx context.Context) {
	if l.reader == nil {
		monitoring.Logf("no sensor board attached, events will carry no sensor data")
		return
	}
	tick := time.NewTicker(l.cfg.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			log, err := l.reader.Read()
			if err != nil {
				monitoring.Logf("sensor read failed: %v", err)
				continue
			}
			l.Record(log)
		}
	}
}

// Record appends a log. Exposed for tests and push-style boards.
func (l *Logs) Record(log SensorLog) {
	l.obfuscate(log)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	l.pruneLocked(log.SystemTime)
}

// kmPerDegree approximates one degree of latitude; good enough for privacy
// rounding.
const kmPerDegree = 111.32

// obfuscate snaps location readings to the configured grid. Readings are
// rounded before the log is ever stored, so the precise position never
// leaves this function.
func (l *Logs) obfuscate(log SensorLog) {
	if l.cfg.ObfuscationKM <= 0 {
		return
	}
	step := l.cfg.ObfuscationKM / kmPerDegree
	for _, name := range []string{"LAT", "LON"} {
		if r, ok := log.Readings[name]; ok {
			r.Value = math.Round(r.Value/step) * step
			log.Readings[name] = r
		}
	}
}

// Get returns the log nearest to ts if it lies within the max-age window,
// else nil. Logs older than the returned one are dropped; later frames only
// ever ask about later timestamps.
func (l *Logs) Get(ts time.Time) *SensorLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	best := -1
	bestDiff := math.MaxFloat64
	for i, log := range l.logs {
		diff := math.Abs(ts.Sub(log.SystemTime).Seconds())
		if diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	if best < 0 || bestDiff > l.cfg.MaxAge.Seconds() {
		l.pruneLocked(ts)
		return nil
	}

	match := l.logs[best]
	// Keep the matched log; a subsequent frame of the same event may still
	// need it.
	l.logs = l.logs[best:]
	return &match
}

// pruneLocked discards logs that have aged out of the matching window
// relative to now. Caller holds mu.
func (l *Logs) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.MaxAge)
	kept := l.logs[:0]
	for _, log := range l.logs {
		if !log.SystemTime.Before(cutoff) {
			kept = append(kept, log)
		}
	}
	l.logs = kept
}

// Buffered returns the number of retained logs, for the status surface.
func (l *Logs) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}
