package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.GatewayConfig{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second}, nil)
}

func TestListPatientsDecodesLooseWireFormat(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/patients", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"patient_id": 7, "name": "Ada", "age": "54", "gender": "F", "heart_rate": 72, "oxygen_level": null,
			 "last_reading": "2026-10-18 09:30:00", "connection_status": "online"},
			{"patient_id": "P2", "name": "Bo", "age": 61, "heart_rate": "", "connection_status": "Offline"}
		]`)
	}))

	patients, err := c.ListPatients(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 2)

	first := patients[0]
	assert.Equal(t, "7", first.PatientID)
	assert.Equal(t, 54, first.Age)
	require.NotNil(t, first.HeartRate)
	assert.Equal(t, 72, *first.HeartRate)
	assert.Nil(t, first.OxygenLevel)
	require.NotNil(t, first.LastReading)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC), *first.LastReading)
	assert.Equal(t, model.StatusOnline, first.ConnectionStatus)

	second := patients[1]
	assert.Equal(t, "P2", second.PatientID)
	assert.Nil(t, second.HeartRate)
	assert.Nil(t, second.LastReading)
	assert.Equal(t, model.StatusOffline, second.ConnectionStatus)
}

func TestListAlerts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"alert_id": 3, "patient_id": "P1", "patient_name": "Ada", "severity_level": "HIGH",
			"issue_detected": "Heart Rate", "datetime": "2026-10-18T10:00:00Z", "resolved": 0}]`)
	}))
	alerts, err := c.ListAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "3", alerts[0].AlertID)
	assert.Equal(t, model.SeverityHigh, alerts[0].SeverityLevel)
	assert.False(t, alerts[0].Resolved)
	assert.Equal(t, 2026, alerts[0].DateTime.Year())
}

func TestListEmptyBodies(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `null`)
	}))
	patients, err := c.ListPatients(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, patients)
	assert.Empty(t, patients)
}

func TestGetStatsPartial(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"total_patients": 4, "critical_alerts_today": null, "avg_heart_rate_today": 81.6}`)
	}))
	report, err := c.GetStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.TotalPatients)
	assert.Equal(t, 4, *report.TotalPatients)
	assert.Nil(t, report.CriticalAlertsToday)
	assert.Nil(t, report.UnresolvedAlerts)
	require.NotNil(t, report.AvgHeartRateToday)
	assert.Equal(t, 82, *report.AvgHeartRateToday, "fractional values round like ingest does")
}

func TestFlexIntRoundsFractions(t *testing.T) {
	cases := map[string]int{`72.6`: 73, `"72.4"`: 72, `97.5`: 98, `60`: 60}
	for in, want := range cases {
		var f flexInt
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		require.NotNil(t, f.ptr(), in)
		assert.Equal(t, want, *f.ptr(), in)
	}
}

func TestMutationsHitExpectedRoutes(t *testing.T) {
	var calls []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.EscapedPath())
		switch r.Method {
		case http.MethodPost:
			var in model.PatientInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "Ada", in.Name)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"patient_id": "P9", "name": "Ada", "connection_status": "Offline"}`)
		case http.MethodPut:
			_, _ = io.WriteString(w, `{"message": "updated"}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	created, err := c.CreatePatient(context.Background(), model.PatientInput{Name: "Ada", Age: 40})
	require.NoError(t, err)
	assert.Equal(t, "P9", created.PatientID)
	require.NoError(t, c.UpdatePatient(context.Background(), "P 9", model.PatientInput{Name: "Ada"}))
	require.NoError(t, c.DeletePatient(context.Background(), "P9"))

	assert.Equal(t, []string{"POST /api/patients", "PUT /api/patients/P%209", "DELETE /api/patients/P9"}, calls)
}

func TestSendTelemetry(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/telemetry", r.URL.Path)
		var reading model.TelemetryReading
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reading))
		assert.Equal(t, model.TelemetryReading{PatientID: "P1", HeartRate: 45, OxygenLevel: 97}, reading)
		_, _ = io.WriteString(w, `{"alert_triggered": true, "issue": "Heart Rate"}`)
	}))
	res, err := c.SendTelemetry(context.Background(), model.TelemetryReading{PatientID: "P1", HeartRate: 45, OxygenLevel: 97})
	require.NoError(t, err)
	assert.True(t, res.AlertTriggered)
	assert.Equal(t, "Heart Rate", res.Issue)
}

func TestErrorMessagesAreVerbatim(t *testing.T) {
	cases := []struct {
		body   string
		status int
		want   string
	}{
		{`{"error": "Patient not found"}`, http.StatusNotFound, "Patient not found"},
		{`{"detail": "validation failed"}`, http.StatusUnprocessableEntity, "validation failed"},
		{`database is locked`, http.StatusInternalServerError, "database is locked"},
		{``, http.StatusBadGateway, "502 Bad Gateway"},
	}
	for _, tc := range cases {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		}))
		err := c.DeletePatient(context.Background(), "P1")
		require.Error(t, err)
		var gerr *Error
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, tc.status, gerr.Status)
		assert.Equal(t, tc.want, err.Error())
	}
}

func TestNetworkErrorAndTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(config.GatewayConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.ListPatients(context.Background())
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 0, gerr.Status)
	assert.NotEmpty(t, gerr.Message)
}

func TestMalformedResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not": "a list"}`)
	}))
	_, err := c.ListAlerts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed response")
}
