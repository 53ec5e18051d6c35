package severity

import "strconv"

type DisplayLevel string

const (
	DisplayUnknown  DisplayLevel = "unknown"
	DisplayNormal   DisplayLevel = "normal"
	DisplayWarning  DisplayLevel = "warning"
	DisplayCritical DisplayLevel = "critical"
)

// DisplayPolicy colours table cells. Its bands differ from AlertPolicy on
// purpose: a heart rate of 110 is shown as critical but raises no alert.
type DisplayPolicy struct {
	HeartRateCriticalAbove int
	HeartRateWarningBelow  int
	OxygenCriticalBelow    int
	OxygenWarningBelow     int
}

var DefaultDisplayPolicy = DisplayPolicy{
	HeartRateCriticalAbove: 100,
	HeartRateWarningBelow:  60,
	OxygenCriticalBelow:    90,
	OxygenWarningBelow:     95,
}

// A zero reading is treated like a missing one, matching the dashboard's
// placeholder rendering.
func (p DisplayPolicy) HeartRate(v *int) DisplayLevel {
	if v == nil || *v == 0 {
		return DisplayUnknown
	}
	switch {
	case *v > p.HeartRateCriticalAbove:
		return DisplayCritical
	case *v < p.HeartRateWarningBelow:
		return DisplayWarning
	}
	return DisplayNormal
}

func (p DisplayPolicy) OxygenLevel(v *int) DisplayLevel {
	if v == nil || *v == 0 {
		return DisplayUnknown
	}
	switch {
	case *v < p.OxygenCriticalBelow:
		return DisplayCritical
	case *v < p.OxygenWarningBelow:
		return DisplayWarning
	}
	return DisplayNormal
}

const Placeholder = "--"

func FormatHeartRate(v *int) string {
	if v == nil || *v == 0 {
		return Placeholder
	}
	return strconv.Itoa(*v) + " bpm"
}

func FormatOxygenLevel(v *int) string {
	if v == nil || *v == 0 {
		return Placeholder
	}
	return strconv.Itoa(*v) + "%"
}
