package motion

import (
	"testing"

	"github.com/fernwatch/camtrap/internal/camera"
)

func testConfig() Config {
	return Config{
		SmallThreshold:   10,
		ScoreThreshold:   300,
		IIROrder:         3,
		IIRAttenuationDB: 35,
		IIRCutoffHz:      2,
	}
}

func uniformField(n int, x, y int8) []camera.MotionVector {
	field := make([]camera.MotionVector, n)
	for i := range field {
		field[i] = camera.MotionVector{X: x, Y: y}
	}
	return field
}

// steadyScore feeds the same field repeatedly and returns the settled score.
func steadyScore(t *testing.T, f *Filter, field []camera.MotionVector) float64 {
	t.Helper()
	var score float64
	for i := 0; i < 200; i++ {
		score = f.Score(field)
	}
	return score
}

func TestSmallVectorsScoreZero(t *testing.T) {
	f, err := NewFilter(testConfig(), 20)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	// Every vector magnitude is below the small threshold; nothing survives
	// to the sum, so the score stays at zero no matter how many vectors.
	field := uniformField(500, 3, 3)
	if score := steadyScore(t, f, field); score != 0 {
		t.Fatalf("sub-threshold field scored %v, want 0", score)
	}
}

func TestCoherentMotionOutscoresIncoherent(t *testing.T) {
	coherent, err := NewFilter(testConfig(), 20)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	incoherent, err := NewFilter(testConfig(), 20)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	// Same number of vectors, same magnitudes. The coherent field all moves
	// +x; the incoherent one is split half +x half -x and must cancel.
	co := uniformField(100, 20, 0)
	inco := append(uniformField(50, 20, 0), uniformField(50, -20, 0)...)

	coScore := steadyScore(t, coherent, co)
	incoScore := steadyScore(t, incoherent, inco)

	if coScore <= incoScore {
		t.Fatalf("coherent score %v not above incoherent score %v", coScore, incoScore)
	}
	if incoScore > 1e-6 {
		t.Fatalf("fully cancelling field scored %v, want ~0", incoScore)
	}
}

func TestApplySetsMotionStatusAndPriority(t *testing.T) {
	f, err := NewFilter(testConfig(), 20)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	// Strong coherent motion: after settling, frames must be MOTION with
	// priority equal to the score.
	field := uniformField(100, 20, 0)
	var frame camera.Frame
	for i := 0; i < 200; i++ {
		frame = camera.Frame{Vectors: field}
		f.Apply(&frame)
	}
	if frame.Status != camera.StatusMotion {
		t.Fatalf("expected MOTION status, got %v", frame.Status)
	}
	if frame.Priority != frame.Score {
		t.Fatalf("MOTION priority %v != score %v", frame.Priority, frame.Score)
	}
}

func TestStillFramesCarryNeverInspect(t *testing.T) {
	f, err := NewFilter(testConfig(), 20)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	// Weak motion: scores stay below threshold, and every STILL frame must
	// carry exactly the never-inspect priority, not merely a low one.
	field := uniformField(2, 15, 0)
	for i := 0; i < 100; i++ {
		frame := camera.Frame{Vectors: field, Priority: 42} // stale priority must be overwritten
		f.Apply(&frame)
		if frame.Status != camera.StatusStill {
			t.Fatalf("frame %d: expected STILL, got %v (score %v)", i, frame.Status, frame.Score)
		}
		if frame.Priority != camera.NeverInspect {
			t.Fatalf("frame %d: STILL priority = %v, want %v", i, frame.Priority, camera.NeverInspect)
		}
	}
}

func TestResetClearsSmoothingState(t *testing.T) {
	f, err := NewFilter(testConfig(), 20)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	steadyScore(t, f, uniformField(100, 20, 0))
	f.Reset()
	// First sample after reset on an empty field must be exactly zero; any
	// residue means the taps were not cleared.
	if score := f.Score(nil); score != 0 {
		t.Fatalf("score after reset = %v, want 0", score)
	}
}
