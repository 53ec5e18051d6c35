package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vitalwatch/internal/model"
)

const (
	MaxHeartRate   = 300
	MaxOxygenLevel = 100
)

var (
	ErrMissingPatient  = errors.New("reading has no patient id")
	ErrMissingVital    = errors.New("reading is missing a vital")
	ErrVitalOutOfRange = errors.New("vital out of range")
)

// Fields are the raw strings pulled out of one feed message before they
// are checked and converted.
type Fields struct {
	PatientID   string
	HeartRate   string
	OxygenLevel string
	Raw         string
}

func Normalize(f Fields) (model.TelemetryReading, error) {
	id := strings.TrimSpace(f.PatientID)
	if id == "" {
		return model.TelemetryReading{}, ErrMissingPatient
	}
	hr, err := parseVital("heart_rate", f.HeartRate, MaxHeartRate)
	if err != nil {
		return model.TelemetryReading{}, err
	}
	ox, err := parseVital("oxygen_level", f.OxygenLevel, MaxOxygenLevel)
	if err != nil {
		return model.TelemetryReading{}, err
	}
	return model.TelemetryReading{PatientID: id, HeartRate: hr, OxygenLevel: ox}, nil
}

// parseVital accepts integers and decimal strings; decimals are rounded to
// the nearest whole unit.
func parseVital(name, value string, max int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingVital, name)
	}
	var v int
	if n, err := strconv.Atoi(value); err == nil {
		v = n
	} else {
		f, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%s %q: %w", name, value, ferr)
		}
		v = int(f + 0.5)
		if f < 0 {
			v = int(f - 0.5)
		}
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("%w: %s=%d not in [0,%d]", ErrVitalOutOfRange, name, v, max)
	}
	return v, nil
}
