package monitor

import (
	"time"

	"vitalwatch/internal/model"
)

type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseFailed        Phase = "failed"
)

// Snapshot is one consistent view of the monitored ward. A published
// snapshot is never modified; the store swaps in a new one instead.
// A failed refresh keeps the previous data, so PhaseFailed may still carry
// displayable patients and alerts.
type Snapshot struct {
	Patients  []model.Patient `json:"patients"`
	Alerts    []model.Alert   `json:"alerts"`
	Stats     model.Stats     `json:"stats"`
	Loading   bool            `json:"loading"`
	Error     string          `json:"error,omitempty"`
	Phase     Phase           `json:"phase"`
	Loaded    bool            `json:"loaded"`
	Restored  bool            `json:"restored,omitempty"`
	Sequence  uint64          `json:"sequence"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Empty reports whether there is nothing to show yet, which is the only
// time a presentation layer should render a bare loading indicator.
func (s Snapshot) Empty() bool {
	return !s.Loaded && !s.Restored && len(s.Patients) == 0 && len(s.Alerts) == 0
}

// Stale reports whether the data on display did not come from the most
// recent refresh attempt.
func (s Snapshot) Stale() bool {
	return s.Phase == PhaseFailed || s.Restored
}

func (s Snapshot) Patient(id string) (model.Patient, bool) {
	for _, p := range s.Patients {
		if p.PatientID == id {
			return clonePatient(p), true
		}
	}
	return model.Patient{}, false
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Patients != nil {
		out.Patients = make([]model.Patient, len(s.Patients))
		for i, p := range s.Patients {
			out.Patients[i] = clonePatient(p)
		}
	}
	if s.Alerts != nil {
		out.Alerts = make([]model.Alert, len(s.Alerts))
		copy(out.Alerts, s.Alerts)
	}
	return out
}

func clonePatient(p model.Patient) model.Patient {
	if p.HeartRate != nil {
		v := *p.HeartRate
		p.HeartRate = &v
	}
	if p.OxygenLevel != nil {
		v := *p.OxygenLevel
		p.OxygenLevel = &v
	}
	if p.LastReading != nil {
		v := *p.LastReading
		p.LastReading = &v
	}
	return p
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Patients: []model.Patient{},
		Alerts:   []model.Alert{},
		Phase:    PhaseUninitialized,
	}
}
