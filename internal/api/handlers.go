package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/model"
	"vitalwatch/internal/severity"
	"vitalwatch/internal/stats"
)

const maxBody = 1 << 20

// patientView is a patient with the table-cell rendering attached.
type patientView struct {
	model.Patient
	Display patientDisplay `json:"display"`
}

type patientDisplay struct {
	HeartRate        string                `json:"heart_rate"`
	HeartRateLevel   severity.DisplayLevel `json:"heart_rate_level"`
	OxygenLevel      string                `json:"oxygen_level"`
	OxygenLevelLevel severity.DisplayLevel `json:"oxygen_level_level"`
	Critical         bool                  `json:"critical"`
}

func viewPatient(p model.Patient) patientView {
	return patientView{
		Patient: p,
		Display: patientDisplay{
			HeartRate:        severity.FormatHeartRate(p.HeartRate),
			HeartRateLevel:   severity.DefaultDisplayPolicy.HeartRate(p.HeartRate),
			OxygenLevel:      severity.FormatOxygenLevel(p.OxygenLevel),
			OxygenLevelLevel: severity.DefaultDisplayPolicy.OxygenLevel(p.OxygenLevel),
			Critical:         severity.DefaultAlertPolicy.Critical(p.HeartRate, p.OxygenLevel),
		},
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handlePatients(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	list := make([]patientView, 0, len(snap.Patients))
	for _, p := range snap.Patients {
		if status != "" && !strings.EqualFold(string(p.ConnectionStatus), status) {
			continue
		}
		list = append(list, viewPatient(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patients": list,
		"count":    len(list),
		"loading":  snap.Loading,
		"error":    snap.Error,
	})
}

func (s *Server) handlePatient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := s.monitor.Snapshot().Patient(id)
	if !ok {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	writeJSON(w, http.StatusOK, viewPatient(p))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()
	q := r.URL.Query()
	floor := model.SeverityNone
	if v := q.Get("severity"); v != "" {
		floor = severity.ParseSeverity(v)
	}
	unresolvedOnly := q.Get("unresolved") == "true"
	patientID := q.Get("patient_id")

	list := make([]model.Alert, 0, len(snap.Alerts))
	for _, a := range snap.Alerts {
		if unresolvedOnly && a.Resolved {
			continue
		}
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		if floor != model.SeverityNone && !severity.AtLeast(a.SeverityLevel, floor) {
			continue
		}
		list = append(list, a)
	}
	summary := stats.Summarize(snap.Alerts)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":     list,
		"count":      len(list),
		"critical":   len(summary.Critical),
		"unresolved": len(summary.Unresolved),
	})
}

// handleRecentAlerts serves the in-memory ring. After a restart the ring
// starts empty, so an unfiltered request falls back to the archive.
func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list := []alerts.Entry{}
	source := "memory"
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		if s.alerts != nil {
			list = s.alerts.Since(ts)
		}
	} else {
		if s.alerts != nil {
			list = s.alerts.List(limit)
		}
		if len(list) == 0 && s.archive != nil {
			archived, err := s.archive.RecentAlerts(r.Context(), limit)
			if err != nil {
				s.logger.Warn("archived alerts unavailable", zap.Error(err))
			} else if len(archived) > 0 {
				// archive rows come newest first; the ring lists oldest first
				for i, j := 0, len(archived)-1; i < j; i, j = i+1, j-1 {
					archived[i], archived[j] = archived[j], archived[i]
				}
				list, source = archived, "archive"
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
		"source": source,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot().Stats)
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var in model.PatientInput
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := s.monitor.CreatePatient(r.Context(), in)
	if err != nil {
		s.writeCommandError(w, "create_patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewPatient(p))
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	var in model.PatientInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.monitor.UpdatePatient(r.Context(), mux.Vars(r)["id"], in); err != nil {
		s.writeCommandError(w, "update_patient", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.DeletePatient(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeCommandError(w, "delete_patient", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var reading model.TelemetryReading
	if !decodeBody(w, r, &reading) {
		return
	}
	if strings.TrimSpace(reading.PatientID) == "" {
		writeError(w, http.StatusBadRequest, "patient_id required")
		return
	}
	res, err := s.monitor.SendTelemetry(r.Context(), reading)
	if err != nil {
		s.writeCommandError(w, "send_telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_triggered": res.AlertTriggered,
		"issue":           res.Issue,
		"message":         res.Describe(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Refresh(r.Context()); err != nil {
		s.writeCommandError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleClearError(w http.ResponseWriter, _ *http.Request) {
	s.monitor.ClearError()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleClassify previews what a reading would do before it is sent: the
// alert it would raise and how its cells would be coloured.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	hr, errHR := strconv.Atoi(r.URL.Query().Get("heart_rate"))
	ox, errOX := strconv.Atoi(r.URL.Query().Get("oxygen_level"))
	if errHR != nil || errOX != nil {
		writeError(w, http.StatusBadRequest, "heart_rate and oxygen_level must be integers")
		return
	}
	c := severity.Classify(hr, ox)
	writeJSON(w, http.StatusOK, map[string]any{
		"severity": c.Severity,
		"issue":    c.Issue,
		"alerting": c.Alerting(),
		"display": map[string]severity.DisplayLevel{
			"heart_rate":   severity.DefaultDisplayPolicy.HeartRate(&hr),
			"oxygen_level": severity.DefaultDisplayPolicy.OxygenLevel(&ox),
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
