// Package sensorboard reads the attached environment sensor board and keeps
// a short-lived buffer of readings for fusion with delivered events. Stale
// readings age out: absent sensor data on an event beats wrong sensor data.
package sensorboard

import "time"

// Reading is a single sensor measurement with its units.
type Reading struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// SensorLog is the set of readings taken at one moment.
type SensorLog struct {
	SystemTime time.Time          `json:"system_time"`
	Readings   map[string]Reading `json:"readings"`
}
