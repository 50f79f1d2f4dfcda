package sensorboard

import "testing"

func TestParseLineDecodesTriples(t *testing.T) {
	readings := parseLine("TEMP:21.5:C HUMIDITY:64:% LIGHT:812:lux")
	if len(readings) != 3 {
		t.Fatalf("parsed %d readings, want 3", len(readings))
	}
	if r := readings["TEMP"]; r.Value != 21.5 || r.Unit != "C" {
		t.Fatalf("TEMP = %+v, want 21.5 C", r)
	}
	if r := readings["HUMIDITY"]; r.Unit != "%" {
		t.Fatalf("HUMIDITY unit = %q, want %%", r.Unit)
	}
}

func TestParseLineAllowsUnitlessFields(t *testing.T) {
	readings := parseLine("PRESSURE:1013.2")
	if r, ok := readings["PRESSURE"]; !ok || r.Value != 1013.2 || r.Unit != "" {
		t.Fatalf("PRESSURE = %+v", readings)
	}
}

func TestParseLineSkipsMalformedFields(t *testing.T) {
	readings := parseLine("TEMP:21.5:C garbage BATT:notanumber:V LONE: HUM:60:%:extra")
	if len(readings) != 1 {
		t.Fatalf("parsed %d readings, want only TEMP: %+v", len(readings), readings)
	}
	if _, ok := readings["TEMP"]; !ok {
		t.Fatal("valid TEMP reading lost among malformed fields")
	}
}

func TestParseLineEmptyInput(t *testing.T) {
	if readings := parseLine(""); len(readings) != 0 {
		t.Fatalf("empty line produced readings: %+v", readings)
	}
}
