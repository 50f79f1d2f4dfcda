// Package config loads the trap's tuning and wiring settings from a JSON
// file with optional environment overrides. Every field is optional; a
// partial file is safe because accessors fall back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root settings document. Pointer fields distinguish "not set"
// from zero so the Get* accessors can apply defaults.
type Config struct {
	// Capture
	Framerate       *int `json:"framerate,omitempty"`
	ResolutionWidth *int `json:"resolution_width,omitempty"`

	// Motion pre-filter
	MotionSmallThreshold *float64 `json:"motion_small_threshold,omitempty"`
	MotionScoreThreshold *float64 `json:"motion_score_threshold,omitempty"`
	IIRCutoffHz          *float64 `json:"iir_cutoff_hz,omitempty"`
	IIROrder             *int     `json:"iir_order,omitempty"`
	IIRAttenuationDB     *float64 `json:"iir_attenuation_db,omitempty"`

	// Sequence buffering
	MaxSequenceSeconds *float64 `json:"max_sequence_seconds,omitempty"`
	StillCloseCount    *int     `json:"still_close_count,omitempty"`
	PriorityAggregate  *string  `json:"priority_aggregate,omitempty"`
	CheckpointFrames   *int     `json:"checkpoint_frames,omitempty"`

	// Detection
	AnimalThreshold     *float64 `json:"animal_threshold,omitempty"`
	HumanThreshold      *float64 `json:"human_threshold,omitempty"`
	DetectHumans        *bool    `json:"detect_humans,omitempty"`
	SubsampleFraction   *float64 `json:"subsample_fraction,omitempty"`
	InferTimeoutSeconds *float64 `json:"infer_timeout_seconds,omitempty"`
	ContextSeconds      *float64 `json:"context_seconds,omitempty"`

	// DetectorURL is the inference sidecar endpoint. Empty means no
	// detector is wired and the run command must supply one (dev mode).
	DetectorURL *string `json:"detector_url,omitempty"`

	// Expected animal run-length parameters
	AnimalSpeedMPS   *float64 `json:"animal_speed_mps,omitempty"`
	VisibleAreaM2    *float64 `json:"visible_area_m2,omitempty"`
	SubjectDistanceM *float64 `json:"subject_distance_m,omitempty"`
	FocalLengthM     *float64 `json:"focal_length_m,omitempty"`
	PixelSizeM       *float64 `json:"pixel_size_m,omitempty"`
	SensorPixels     *int     `json:"sensor_pixels,omitempty"`

	// Sensor board
	SensorPort            *string  `json:"sensor_port,omitempty"`
	SensorBaud            *int     `json:"sensor_baud,omitempty"`
	SensorIntervalSeconds *float64 `json:"sensor_interval_seconds,omitempty"`
	SensorMaxAgeSeconds   *float64 `json:"sensor_max_age_seconds,omitempty"`
	SensorObfuscationKM   *float64 `json:"sensor_obfuscation_km,omitempty"`

	// Output
	OutputMode *string `json:"output_mode,omitempty"` // stills | video
	OutputSink *string `json:"output_sink,omitempty"` // disk | server
	OutputPath *string `json:"output_path,omitempty"`
	ServerURL  *string `json:"server_url,omitempty"`

	// Recovery
	DatabasePath *string `json:"database_path,omitempty"`
	SpoolDir     *string `json:"spool_dir,omitempty"`

	// Pipeline
	DrainDeadlineSeconds *float64 `json:"drain_deadline_seconds,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config { return &Config{} }

// Load reads a JSON config file and applies environment overrides. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cfg := Empty()

	if path != "" {
		cleanPath := filepath.Clean(path)
		if ext := filepath.Ext(cleanPath); ext != ".json" {
			return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
		}
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	// A local .env file may supply the CAMTRAP_* overrides read below.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides wiring-level settings from CAMTRAP_* variables so a
// deployment can relocate paths and endpoints without editing the tuning
// file. Tuning constants stay file-only on purpose.
func (c *Config) applyEnv() {
	if v := os.Getenv("CAMTRAP_DATABASE_PATH"); v != "" {
		c.DatabasePath = &v
	}
	if v := os.Getenv("CAMTRAP_SPOOL_DIR"); v != "" {
		c.SpoolDir = &v
	}
	if v := os.Getenv("CAMTRAP_OUTPUT_PATH"); v != "" {
		c.OutputPath = &v
	}
	if v := os.Getenv("CAMTRAP_OUTPUT_SINK"); v != "" {
		c.OutputSink = &v
	}
	if v := os.Getenv("CAMTRAP_SERVER_URL"); v != "" {
		c.ServerURL = &v
	}
	if v := os.Getenv("CAMTRAP_SENSOR_PORT"); v != "" {
		c.SensorPort = &v
	}
	if v := os.Getenv("CAMTRAP_DETECTOR_URL"); v != "" {
		c.DetectorURL = &v
	}
	if v := os.Getenv("CAMTRAP_FRAMERATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Framerate = &n
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.GetFramerate() <= 0 {
		return fmt.Errorf("framerate must be positive, got %d", c.GetFramerate())
	}
	if c.GetIIROrder() < 1 {
		return fmt.Errorf("iir_order must be >= 1, got %d", c.GetIIROrder())
	}
	if c.GetIIRAttenuationDB() <= 0 {
		return fmt.Errorf("iir_attenuation_db must be positive, got %g", c.GetIIRAttenuationDB())
	}
	if c.GetMaxSequenceSeconds() <= 0 {
		return fmt.Errorf("max_sequence_seconds must be positive, got %g", c.GetMaxSequenceSeconds())
	}
	if f := c.GetSubsampleFraction(); f < 0 || f > 1 {
		return fmt.Errorf("subsample_fraction must be in [0, 1], got %g", f)
	}
	switch c.GetPriorityAggregate() {
	case "max", "mean", "integral":
	default:
		return fmt.Errorf("priority_aggregate must be max, mean or integral, got %q", c.GetPriorityAggregate())
	}
	switch c.GetOutputMode() {
	case "stills", "video":
	default:
		return fmt.Errorf("output_mode must be stills or video, got %q", c.GetOutputMode())
	}
	switch c.GetOutputSink() {
	case "disk":
	case "server":
		if c.GetServerURL() == "" {
			return fmt.Errorf("output_sink \"server\" requires server_url")
		}
	default:
		return fmt.Errorf("output_sink must be disk or server, got %q", c.GetOutputSink())
	}
	return nil
}

// Accessors with defaults. The defaults are the field-tested values for a
// 20 fps capture on the reference hardware.

func (c *Config) GetFramerate() int { return intOr(c.Framerate, 20) }

func (c *Config) GetResolutionWidth() int { return intOr(c.ResolutionWidth, 640) }

func (c *Config) GetMotionSmallThreshold() float64 { return floatOr(c.MotionSmallThreshold, 10) }

func (c *Config) GetMotionScoreThreshold() float64 { return floatOr(c.MotionScoreThreshold, 300) }

func (c *Config) GetIIRCutoffHz() float64 { return floatOr(c.IIRCutoffHz, 2) }

func (c *Config) GetIIROrder() int { return intOr(c.IIROrder, 3) }

func (c *Config) GetIIRAttenuationDB() float64 { return floatOr(c.IIRAttenuationDB, 35) }

func (c *Config) GetMaxSequenceSeconds() float64 { return floatOr(c.MaxSequenceSeconds, 10) }

// GetStillCloseCount defaults to half a second of frames.
func (c *Config) GetStillCloseCount() int { return intOr(c.StillCloseCount, c.GetFramerate()/2) }

func (c *Config) GetPriorityAggregate() string { return stringOr(c.PriorityAggregate, "max") }

func (c *Config) GetCheckpointFrames() int { return intOr(c.CheckpointFrames, 5*c.GetFramerate()) }

func (c *Config) GetAnimalThreshold() float64 { return floatOr(c.AnimalThreshold, 0.2) }

func (c *Config) GetHumanThreshold() float64 { return floatOr(c.HumanThreshold, 0.8) }

func (c *Config) GetDetectHumans() bool { return boolOr(c.DetectHumans, true) }

func (c *Config) GetSubsampleFraction() float64 { return floatOr(c.SubsampleFraction, 1.0) }

func (c *Config) GetInferTimeout() time.Duration {
	return time.Duration(floatOr(c.InferTimeoutSeconds, 10) * float64(time.Second))
}

func (c *Config) GetContextSeconds() float64 { return floatOr(c.ContextSeconds, 1.0) }

func (c *Config) GetDetectorURL() string { return stringOr(c.DetectorURL, "") }

func (c *Config) GetAnimalSpeedMPS() float64 { return floatOr(c.AnimalSpeedMPS, 1.0) }

func (c *Config) GetVisibleAreaM2() float64 { return floatOr(c.VisibleAreaM2, 0.0064) }

func (c *Config) GetSubjectDistanceM() float64 { return floatOr(c.SubjectDistanceM, 1.0) }

func (c *Config) GetFocalLengthM() float64 { return floatOr(c.FocalLengthM, 3.6e-3) }

func (c *Config) GetPixelSizeM() float64 { return floatOr(c.PixelSizeM, 1.4e-6) }

func (c *Config) GetSensorPixels() int { return intOr(c.SensorPixels, 2592) }

func (c *Config) GetSensorPort() string { return stringOr(c.SensorPort, "/dev/ttyUSB0") }

func (c *Config) GetSensorBaud() int { return intOr(c.SensorBaud, 57600) }

func (c *Config) GetSensorInterval() time.Duration {
	return time.Duration(floatOr(c.SensorIntervalSeconds, 30) * float64(time.Second))
}

func (c *Config) GetSensorMaxAge() time.Duration {
	return time.Duration(floatOr(c.SensorMaxAgeSeconds, 60) * float64(time.Second))
}

// GetSensorObfuscationKM is the location rounding grid; zero disables it.
func (c *Config) GetSensorObfuscationKM() float64 { return floatOr(c.SensorObfuscationKM, 2) }

func (c *Config) GetOutputMode() string { return stringOr(c.OutputMode, "stills") }

func (c *Config) GetOutputSink() string { return stringOr(c.OutputSink, "disk") }

func (c *Config) GetOutputPath() string { return stringOr(c.OutputPath, "output") }

func (c *Config) GetServerURL() string { return stringOr(c.ServerURL, "") }

func (c *Config) GetDatabasePath() string { return stringOr(c.DatabasePath, "camtrap.db") }

func (c *Config) GetSpoolDir() string { return stringOr(c.SpoolDir, "spool") }

func (c *Config) GetDrainDeadline() time.Duration {
	return time.Duration(floatOr(c.DrainDeadlineSeconds, 30) * float64(time.Second))
}

// Effective returns the resolved configuration with defaults applied, keyed
// the same way as the file format. Served by the HTTP API.
func (c *Config) Effective() map[string]interface{} {
	return map[string]interface{}{
		"framerate":               c.GetFramerate(),
		"resolution_width":        c.GetResolutionWidth(),
		"motion_small_threshold":  c.GetMotionSmallThreshold(),
		"motion_score_threshold":  c.GetMotionScoreThreshold(),
		"iir_cutoff_hz":           c.GetIIRCutoffHz(),
		"iir_order":               c.GetIIROrder(),
		"iir_attenuation_db":      c.GetIIRAttenuationDB(),
		"max_sequence_seconds":    c.GetMaxSequenceSeconds(),
		"still_close_count":       c.GetStillCloseCount(),
		"priority_aggregate":      c.GetPriorityAggregate(),
		"checkpoint_frames":       c.GetCheckpointFrames(),
		"animal_threshold":        c.GetAnimalThreshold(),
		"human_threshold":         c.GetHumanThreshold(),
		"detect_humans":           c.GetDetectHumans(),
		"subsample_fraction":      c.GetSubsampleFraction(),
		"infer_timeout_seconds":   c.GetInferTimeout().Seconds(),
		"detector_url":            c.GetDetectorURL(),
		"context_seconds":         c.GetContextSeconds(),
		"animal_speed_mps":        c.GetAnimalSpeedMPS(),
		"visible_area_m2":         c.GetVisibleAreaM2(),
		"subject_distance_m":      c.GetSubjectDistanceM(),
		"focal_length_m":          c.GetFocalLengthM(),
		"pixel_size_m":            c.GetPixelSizeM(),
		"sensor_pixels":           c.GetSensorPixels(),
		"sensor_port":             c.GetSensorPort(),
		"sensor_baud":             c.GetSensorBaud(),
		"sensor_interval_seconds": c.GetSensorInterval().Seconds(),
		"sensor_max_age_seconds":  c.GetSensorMaxAge().Seconds(),
		"sensor_obfuscation_km":   c.GetSensorObfuscationKM(),
		"output_mode":             c.GetOutputMode(),
		"output_sink":             c.GetOutputSink(),
		"output_path":             c.GetOutputPath(),
		"server_url":              c.GetServerURL(),
		"database_path":           c.GetDatabasePath(),
		"spool_dir":               c.GetSpoolDir(),
		"drain_deadline_seconds":  c.GetDrainDeadline().Seconds(),
	}
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func floatOr(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

func stringOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}
