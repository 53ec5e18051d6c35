// Package severity holds the two vital-sign rule sets used by the monitor:
// the alert-trigger bands shared with the gateway, and the narrower display
// bands used to colour already-known vitals. They are deliberately separate
// types and must not be merged.
package severity

import (
	"strings"

	"vitalwatch/internal/model"
)

const (
	IssueHeartRate   = "Heart Rate"
	IssueLowOxygen   = "Low Oxygen"
	IssueOxygenLevel = "Oxygen Level"
)

type Classification struct {
	Severity model.Severity `json:"severity"`
	Issue    string         `json:"issue,omitempty"`
}

func (c Classification) Alerting() bool {
	return c.Severity != model.SeverityNone
}

// AlertPolicy reproduces the gateway's alert thresholds.
type AlertPolicy struct {
	HeartRateLow    int
	HeartRateHigh   int
	OxygenCritical  int
	OxygenWarningAt int
}

var DefaultAlertPolicy = AlertPolicy{
	HeartRateLow:    50,
	HeartRateHigh:   120,
	OxygenCritical:  90,
	OxygenWarningAt: 94,
}

func Classify(heartRate, oxygenLevel int) Classification {
	return DefaultAlertPolicy.Classify(heartRate, oxygenLevel)
}

func (p AlertPolicy) Classify(heartRate, oxygenLevel int) Classification {
	sev := model.SeverityNone
	var issues []string
	if heartRate < p.HeartRateLow || heartRate > p.HeartRateHigh {
		sev = model.SeverityHigh
		issues = append(issues, IssueHeartRate)
	}
	if oxygenLevel < p.OxygenCritical {
		sev = model.SeverityHigh
		issues = append(issues, IssueLowOxygen)
	} else if oxygenLevel <= p.OxygenWarningAt {
		if sev != model.SeverityHigh {
			sev = model.SeverityMedium
		}
		issues = append(issues, IssueOxygenLevel)
	}
	return Classification{Severity: sev, Issue: strings.Join(issues, ", ")}
}

// Critical reports whether a patient's present vitals cross a high band.
// Missing vitals never count.
func (p AlertPolicy) Critical(heartRate, oxygenLevel *int) bool {
	if heartRate != nil && (*heartRate < p.HeartRateLow || *heartRate > p.HeartRateHigh) {
		return true
	}
	return oxygenLevel != nil && *oxygenLevel < p.OxygenCritical
}

func Rank(s model.Severity) int {
	switch s {
	case model.SeverityLow:
		return 1
	case model.SeverityMedium:
		return 2
	case model.SeverityHigh:
		return 3
	}
	return 0
}

func AtLeast(s, floor model.Severity) bool {
	return Rank(s) >= Rank(floor)
}

func ParseSeverity(v string) model.Severity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low":
		return model.SeverityLow
	case "medium", "moderate":
		return model.SeverityMedium
	case "high", "critical":
		return model.SeverityHigh
	}
	return model.SeverityNone
}
