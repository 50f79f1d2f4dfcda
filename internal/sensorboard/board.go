package sensorboard

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/fernwatch/camtrap/internal/monitoring"
)

// Board is the serial interface to the sensor board. Writing the trigger
// byte prompts the board to emit its newest reading set as one text line of
// space-separated NAME:VALUE:UNIT triples.
type Board struct {
	port    serial.Port
	scanner *bufio.Scanner
}

// trigger prompts the board for its newest readings.
var trigger = []byte("e")

// OpenBoard opens the sensor board on the given serial port. A missing board
// is reported as an error so the caller can degrade to empty logs.
func OpenBoard(portName string, baud int) (*Board, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor board on %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &Board{port: port, scanner: bufio.NewScanner(port)}, nil
}

// Close closes the serial port.
func (b *Board) Close() error {
	return b.port.Close()
}

// Read triggers the board and returns the parsed reading set. A board that
// answers garbage yields an empty log rather than an error; only transport
// failures are surfaced.
func (b *Board) Read() (SensorLog, error) {
	log := SensorLog{SystemTime: time.Now(), Readings: map[string]Reading{}}

	if _, err := b.port.Write(trigger); err != nil {
		return log, fmt.Errorf("failed to trigger sensor board: %w", err)
	}
	if !b.scanner.Scan() {
		if err := b.scanner.Err(); err != nil {
			return log, fmt.Errorf("failed to read sensor line: %w", err)
		}
		return log, nil
	}

	log.Readings = parseLine(b.scanner.Text())
	return log, nil
}

// parseLine decodes one board response line. Unparseable fields are skipped
// with a log line; a partly valid line still yields its valid readings.
func parseLine(line string) map[string]Reading {
	readings := map[string]Reading{}
	for _, field := range strings.Fields(line) {
		parts := strings.Split(field, ":")
		if len(parts) < 2 || len(parts) > 3 {
			monitoring.Debugf("skipping malformed sensor field %q", field)
			continue
		}
		value, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			monitoring.Debugf("skipping unparseable sensor value %q: %v", field, err)
			continue
		}
		r := Reading{Value: value}
		if len(parts) == 3 {
			r.Unit = parts[2]
		}
		readings[parts[0]] = r
	}
	return readings
}
