// Package stats derives dashboard aggregates from a patients/alerts pair
// and merges them with the partial stats reported by the gateway.
package stats

import (
	"math"

	"vitalwatch/internal/model"
	"vitalwatch/internal/severity"
)

// Compute is the local fallback used for any stat the gateway leaves out.
// Missing vitals add zero to the averages but still count in the divisor.
func Compute(patients []model.Patient, alerts []model.Alert) model.Stats {
	out := model.Stats{
		TotalPatients:    len(patients),
		TotalAlertsToday: len(alerts),
	}
	var hrSum, oxSum int
	for _, p := range patients {
		if p.Online() {
			out.ActivePatients++
		}
		if severity.DefaultAlertPolicy.Critical(p.HeartRate, p.OxygenLevel) {
			out.CriticalAlertsToday++
		}
		hrSum += valueOrZero(p.HeartRate)
		oxSum += valueOrZero(p.OxygenLevel)
	}
	for _, a := range alerts {
		if !a.Resolved {
			out.UnresolvedAlerts++
		}
	}
	out.AvgHeartRateToday = roundedMean(hrSum, len(patients))
	out.AvgOxygenLevelToday = roundedMean(oxSum, len(patients))
	return out
}

// ComputeExcludingMissing averages only the vitals that are present.
func ComputeExcludingMissing(patients []model.Patient, alerts []model.Alert) model.Stats {
	out := Compute(patients, alerts)
	var hrSum, hrN, oxSum, oxN int
	for _, p := range patients {
		if p.HeartRate != nil {
			hrSum += *p.HeartRate
			hrN++
		}
		if p.OxygenLevel != nil {
			oxSum += *p.OxygenLevel
			oxN++
		}
	}
	out.AvgHeartRateToday = roundedMean(hrSum, hrN)
	out.AvgOxygenLevelToday = roundedMean(oxSum, oxN)
	return out
}

// Merge takes each field from the report when present, else from local.
func Merge(report *model.StatsReport, local model.Stats) model.Stats {
	if report == nil {
		return local
	}
	return model.Stats{
		TotalPatients:       pick(report.TotalPatients, local.TotalPatients),
		ActivePatients:      pick(report.ActivePatients, local.ActivePatients),
		CriticalAlertsToday: pick(report.CriticalAlertsToday, local.CriticalAlertsToday),
		UnresolvedAlerts:    pick(report.UnresolvedAlerts, local.UnresolvedAlerts),
		AvgHeartRateToday:   pick(report.AvgHeartRateToday, local.AvgHeartRateToday),
		AvgOxygenLevelToday: pick(report.AvgOxygenLevelToday, local.AvgOxygenLevelToday),
		TotalAlertsToday:    pick(report.TotalAlertsToday, local.TotalAlertsToday),
	}
}

type AlertSummary struct {
	Critical   []model.Alert `json:"critical"`
	Unresolved []model.Alert `json:"unresolved"`
}

// Summarize splits alerts into the high-severity and unresolved lists shown
// above the alerts table. Arrival order is kept.
func Summarize(alerts []model.Alert) AlertSummary {
	out := AlertSummary{Critical: []model.Alert{}, Unresolved: []model.Alert{}}
	for _, a := range alerts {
		if a.SeverityLevel == model.SeverityHigh {
			out.Critical = append(out.Critical, a)
		}
		if !a.Resolved {
			out.Unresolved = append(out.Unresolved, a)
		}
	}
	return out
}

func pick(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

func valueOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func roundedMean(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}
