package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"vitalwatch/internal/model"
	"vitalwatch/internal/severity"
)

// flexString accepts either a JSON string or a JSON number. Gateways backed
// by SQL tables commonly serialise ids as integers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts numbers, numeric strings and null.
type flexInt struct {
	v     int
	valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = flexInt{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	f.v, f.valid = int(math.Round(n)), true
	return nil
}

func (f flexInt) ptr() *int {
	if !f.valid {
		return nil
	}
	v := f.v
	return &v
}

type wirePatient struct {
	PatientID         flexString `json:"patient_id"`
	Name              string     `json:"name"`
	Age               flexInt    `json:"age"`
	Gender            string     `json:"gender"`
	MedicalConditions string     `json:"medical_conditions"`
	HeartRate         flexInt    `json:"heart_rate"`
	OxygenLevel       flexInt    `json:"oxygen_level"`
	LastReading       string     `json:"last_reading"`
	ConnectionStatus  string     `json:"connection_status"`
}

func (w wirePatient) toModel() model.Patient {
	p := model.Patient{
		PatientID:         string(w.PatientID),
		Name:              w.Name,
		Age:               w.Age.v,
		Gender:            w.Gender,
		MedicalConditions: w.MedicalConditions,
		HeartRate:         w.HeartRate.ptr(),
		OxygenLevel:       w.OxygenLevel.ptr(),
		ConnectionStatus:  parseConnectionStatus(w.ConnectionStatus),
	}
	if ts, err := parseTimestamp(w.LastReading); err == nil {
		p.LastReading = &ts
	}
	return p
}

type wireAlert struct {
	AlertID       flexString `json:"alert_id"`
	PatientID     flexString `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	SeverityLevel string     `json:"severity_level"`
	IssueDetected string     `json:"issue_detected"`
	Message       string     `json:"message"`
	DateTime      string     `json:"datetime"`
	Resolved      flexBool   `json:"resolved"`
}

func (w wireAlert) toModel() model.Alert {
	a := model.Alert{
		AlertID:       string(w.AlertID),
		PatientID:     string(w.PatientID),
		PatientName:   w.PatientName,
		SeverityLevel: model.Severity(strings.ToLower(strings.TrimSpace(w.SeverityLevel))),
		IssueDetected: w.IssueDetected,
		Message:       w.Message,
		Resolved:      bool(w.Resolved),
	}
	if parsed := severity.ParseSeverity(w.SeverityLevel); parsed != model.SeverityNone {
		a.SeverityLevel = parsed
	}
	if ts, err := parseTimestamp(w.DateTime); err == nil {
		a.DateTime = ts
	}
	return a
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.ToLower(string(bytes.TrimSpace(data))), `"`)
	switch s {
	case "true", "1", "yes":
		*f = true
	case "false", "0", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("not a boolean: %s", data)
	}
	return nil
}

type wireStats struct {
	TotalPatients       flexInt `json:"total_patients"`
	ActivePatients      flexInt `json:"active_patients"`
	CriticalAlertsToday flexInt `json:"critical_alerts_today"`
	UnresolvedAlerts    flexInt `json:"unresolved_alerts"`
	AvgHeartRateToday   flexInt `json:"avg_heart_rate_today"`
	AvgOxygenLevelToday flexInt `json:"avg_oxygen_level_today"`
	TotalAlertsToday    flexInt `json:"total_alerts_today"`
}

func (w wireStats) toModel() *model.StatsReport {
	return &model.StatsReport{
		TotalPatients:       w.TotalPatients.ptr(),
		ActivePatients:      w.ActivePatients.ptr(),
		CriticalAlertsToday: w.CriticalAlertsToday.ptr(),
		UnresolvedAlerts:    w.UnresolvedAlerts.ptr(),
		AvgHeartRateToday:   w.AvgHeartRateToday.ptr(),
		AvgOxygenLevelToday: w.AvgOxygenLevelToday.ptr(),
		TotalAlertsToday:    w.TotalAlertsToday.ptr(),
	}
}

func parseConnectionStatus(v string) model.ConnectionStatus {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "online":
		return model.StatusOnline
	case "offline", "":
		return model.StatusOffline
	}
	return model.ConnectionStatus(v)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.000000",
	"2006-01-02 15:04:05Z0700",
	time.RFC1123,
	time.RFC1123Z,
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}
