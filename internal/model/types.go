package model

import (
	"fmt"
	"time"
)

type ConnectionStatus string

const (
	StatusOnline  ConnectionStatus = "Online"
	StatusOffline ConnectionStatus = "Offline"
)

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Patient is one monitored patient as reported by the gateway. Vitals are
// nil when the gateway has not received a reading yet.
type Patient struct {
	PatientID         string           `json:"patient_id"`
	Name              string           `json:"name"`
	Age               int              `json:"age"`
	Gender            string           `json:"gender"`
	MedicalConditions string           `json:"medical_conditions,omitempty"`
	HeartRate         *int             `json:"heart_rate,omitempty"`
	OxygenLevel       *int             `json:"oxygen_level,omitempty"`
	LastReading       *time.Time       `json:"last_reading,omitempty"`
	ConnectionStatus  ConnectionStatus `json:"connection_status"`
}

func (p Patient) Online() bool {
	return p.ConnectionStatus == StatusOnline
}

// PatientInput is the body of create and update commands.
type PatientInput struct {
	Name              string           `json:"name"`
	Age               int              `json:"age"`
	Gender            string           `json:"gender"`
	MedicalConditions string           `json:"medical_conditions,omitempty"`
	ConnectionStatus  ConnectionStatus `json:"connection_status,omitempty"`
}

// Alert severity is assigned by the gateway when the alert is created and
// is never recomputed locally.
type Alert struct {
	AlertID       string    `json:"alert_id"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	SeverityLevel Severity  `json:"severity_level"`
	IssueDetected string    `json:"issue_detected"`
	Message       string    `json:"message,omitempty"`
	DateTime      time.Time `json:"datetime"`
	Resolved      bool      `json:"resolved"`
}

type Stats struct {
	TotalPatients       int `json:"total_patients"`
	ActivePatients      int `json:"active_patients"`
	CriticalAlertsToday int `json:"critical_alerts_today"`
	UnresolvedAlerts    int `json:"unresolved_alerts"`
	AvgHeartRateToday   int `json:"avg_heart_rate_today"`
	AvgOxygenLevelToday int `json:"avg_oxygen_level_today"`
	TotalAlertsToday    int `json:"total_alerts_today"`
}

// StatsReport is the partial stats object served by the gateway. A nil
// field was absent or null in the response.
type StatsReport struct {
	TotalPatients       *int `json:"total_patients"`
	ActivePatients      *int `json:"active_patients"`
	CriticalAlertsToday *int `json:"critical_alerts_today"`
	UnresolvedAlerts    *int `json:"unresolved_alerts"`
	AvgHeartRateToday   *int `json:"avg_heart_rate_today"`
	AvgOxygenLevelToday *int `json:"avg_oxygen_level_today"`
	TotalAlertsToday    *int `json:"total_alerts_today"`
}

type TelemetryReading struct {
	PatientID   string `json:"patient_id"`
	HeartRate   int    `json:"heart_rate"`
	OxygenLevel int    `json:"oxygen_level"`
}

type TelemetryResult struct {
	AlertTriggered bool   `json:"alert_triggered"`
	Issue          string `json:"issue,omitempty"`
}

// Describe renders the confirmation shown after a reading is accepted.
func (r TelemetryResult) Describe() string {
	if r.AlertTriggered {
		return fmt.Sprintf("Data sent successfully! Alert triggered: %s", r.Issue)
	}
	return "Telemetry data sent successfully!"
}

func IntPtr(v int) *int {
	return &v
}
