package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/config"
	"vitalwatch/internal/gateway"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/model"
	"vitalwatch/internal/monitor"
)

type fakeGateway struct {
	mu       sync.Mutex
	patients []model.Patient
	alerts   []model.Alert
	failNext error
}

func (g *fakeGateway) ListPatients(context.Context) ([]model.Patient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Patient(nil), g.patients...), nil
}

func (g *fakeGateway) ListAlerts(context.Context) ([]model.Alert, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Alert(nil), g.alerts...), nil
}

func (g *fakeGateway) GetStats(context.Context) (*model.StatsReport, error) {
	return &model.StatsReport{}, nil
}

func (g *fakeGateway) CreatePatient(_ context.Context, in model.PatientInput) (model.Patient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return model.Patient{}, err
	}
	p := model.Patient{PatientID: "P" + string(rune('0'+len(g.patients)+1)), Name: in.Name, Age: in.Age, Gender: in.Gender, ConnectionStatus: model.StatusOffline}
	g.patients = append(g.patients, p)
	return p, nil
}

func (g *fakeGateway) UpdatePatient(_ context.Context, id string, in model.PatientInput) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.patients {
		if g.patients[i].PatientID == id {
			g.patients[i].Name = in.Name
			return nil
		}
	}
	return &gateway.Error{Op: "update_patient", Status: http.StatusNotFound, Message: "Patient not found"}
}

func (g *fakeGateway) DeletePatient(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.patients {
		if g.patients[i].PatientID == id {
			g.patients = append(g.patients[:i], g.patients[i+1:]...)
			return nil
		}
	}
	return &gateway.Error{Op: "delete_patient", Status: http.StatusNotFound, Message: "Patient not found"}
}

func (g *fakeGateway) SendTelemetry(_ context.Context, r model.TelemetryReading) (model.TelemetryResult, error) {
	if r.HeartRate > 120 {
		return model.TelemetryResult{AlertTriggered: true, Issue: "Abnormal heart rate"}, nil
	}
	return model.TelemetryResult{}, nil
}

func setupServer(t *testing.T) (*httptest.Server, *monitor.Store, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{
		patients: []model.Patient{
			{PatientID: "P1", Name: "Ada", HeartRate: model.IntPtr(130), OxygenLevel: model.IntPtr(97), ConnectionStatus: model.StatusOnline},
			{PatientID: "P2", Name: "Bo", ConnectionStatus: model.StatusOffline},
		},
		alerts: []model.Alert{
			{AlertID: "A1", PatientID: "P1", SeverityLevel: model.SeverityHigh, IssueDetected: "Abnormal heart rate"},
			{AlertID: "A2", PatientID: "P1", SeverityLevel: model.SeverityLow, Resolved: true},
		},
	}
	reg := prometheus.NewRegistry()
	ms := metrics.NewStore(reg)
	store := monitor.New(gw, monitor.WithObserver(ms), monitor.WithTelemetryRefreshDelay(0))
	t.Cleanup(store.Close)
	require.NoError(t, store.Initialize(context.Background()))

	recent := alerts.NewStore(10)
	recent.Add(alerts.Entry{Alert: gw.alerts[0], ObservedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)})

	srv := NewServer(config.NewStaticManager(nil), store, Options{Metrics: ms, Alerts: recent, Gatherer: reg, Version: "test"})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store, gw
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func send(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	ts, _, _ := setupServer(t)
	var resp statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/status", &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, monitor.PhaseReady, resp.Phase)
	assert.Equal(t, "test", resp.Version)
	require.NotEmpty(t, resp.Operations)
	assert.Equal(t, "refresh", resp.Operations[0].Op)
}

func TestPatientsCarryDisplay(t *testing.T) {
	ts, _, _ := setupServer(t)
	var resp struct {
		Patients []struct {
			PatientID string         `json:"patient_id"`
			Display   patientDisplay `json:"display"`
		} `json:"patients"`
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/patients", &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "130 bpm", resp.Patients[0].Display.HeartRate)
	assert.Equal(t, "critical", string(resp.Patients[0].Display.HeartRateLevel))
	assert.True(t, resp.Patients[0].Display.Critical)
	assert.Equal(t, "--", resp.Patients[1].Display.HeartRate)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/patients?status=online", &resp))
	assert.Equal(t, 1, resp.Count)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/patients/P9", nil))
}

func TestAlertsFilterAndSummary(t *testing.T) {
	ts, _, _ := setupServer(t)
	var resp struct {
		Alerts     []model.Alert `json:"alerts"`
		Count      int           `json:"count"`
		Critical   int           `json:"critical"`
		Unresolved int           `json:"unresolved"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/alerts?unresolved=true", &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 1, resp.Critical)
	assert.Equal(t, 1, resp.Unresolved)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/alerts?severity=medium", &resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "A1", resp.Alerts[0].AlertID)

	var recent struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/alerts/recent?limit=5", &recent))
	assert.Equal(t, 1, recent.Count)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/alerts/recent?since=yesterday", nil))
}

func TestStats(t *testing.T) {
	ts, _, _ := setupServer(t)
	var st model.Stats
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/stats", &st))
	assert.Equal(t, 2, st.TotalPatients)
	assert.Equal(t, 1, st.ActivePatients)
	assert.Equal(t, 1, st.UnresolvedAlerts)
}

func TestPatientCommands(t *testing.T) {
	ts, store, gw := setupServer(t)

	var created struct {
		PatientID string `json:"patient_id"`
		Name      string `json:"name"`
	}
	require.Equal(t, http.StatusCreated, send(t, http.MethodPost, ts.URL+"/patients", `{"name":"Cy","age":40,"gender":"F"}`, &created))
	assert.Equal(t, "P3", created.PatientID)
	_, ok := store.Snapshot().Patient("P3")
	assert.True(t, ok, "create forces a refresh")

	require.Equal(t, http.StatusOK, send(t, http.MethodPut, ts.URL+"/patients/P3", `{"name":"Cyd","age":40,"gender":"F"}`, nil))
	p, _ := store.Snapshot().Patient("P3")
	assert.Equal(t, "Cyd", p.Name)

	var errResp map[string]string
	require.Equal(t, http.StatusBadGateway, send(t, http.MethodDelete, ts.URL+"/patients/P9", "", &errResp))
	assert.Equal(t, "Patient not found", errResp["error"])

	require.Equal(t, http.StatusOK, send(t, http.MethodDelete, ts.URL+"/patients/P3", "", nil))
	_, ok = store.Snapshot().Patient("P3")
	assert.False(t, ok)

	gw.mu.Lock()
	gw.failNext = &gateway.Error{Op: "create_patient", Status: http.StatusBadRequest, Message: "Name is required"}
	gw.mu.Unlock()
	require.Equal(t, http.StatusBadGateway, send(t, http.MethodPost, ts.URL+"/patients", `{"name":""}`, &errResp))
	assert.Equal(t, "Name is required", errResp["error"])

	assert.Equal(t, http.StatusBadRequest, send(t, http.MethodPost, ts.URL+"/patients", `{`, nil))
}

func TestTelemetry(t *testing.T) {
	ts, _, _ := setupServer(t)
	var resp struct {
		AlertTriggered bool   `json:"alert_triggered"`
		Message        string `json:"message"`
	}
	require.Equal(t, http.StatusOK, send(t, http.MethodPost, ts.URL+"/telemetry", `{"patient_id":"P1","heart_rate":130,"oxygen_level":97}`, &resp))
	assert.True(t, resp.AlertTriggered)
	assert.Equal(t, "Data sent successfully! Alert triggered: Abnormal heart rate", resp.Message)

	assert.Equal(t, http.StatusBadRequest, send(t, http.MethodPost, ts.URL+"/telemetry", `{"heart_rate":70}`, nil))
}

func TestRefreshAndClearError(t *testing.T) {
	ts, store, _ := setupServer(t)
	var snap monitor.Snapshot
	require.Equal(t, http.StatusOK, send(t, http.MethodPost, ts.URL+"/refresh", "", &snap))
	assert.Greater(t, snap.Sequence, uint64(1))

	require.Equal(t, http.StatusOK, send(t, http.MethodPost, ts.URL+"/error/clear", "", nil))
	assert.Empty(t, store.Snapshot().Error)

	store.Close()
	assert.Equal(t, http.StatusServiceUnavailable, send(t, http.MethodPost, ts.URL+"/refresh", "", nil))
}

func TestClassify(t *testing.T) {
	ts, _, _ := setupServer(t)
	var resp struct {
		Severity string            `json:"severity"`
		Issue    string            `json:"issue"`
		Alerting bool              `json:"alerting"`
		Display  map[string]string `json:"display"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/classify?heart_rate=110&oxygen_level=93", &resp))
	assert.Equal(t, "medium", resp.Severity)
	assert.True(t, resp.Alerting)
	assert.Equal(t, "critical", resp.Display["heart_rate"])
	assert.Equal(t, "warning", resp.Display["oxygen_level"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/classify?heart_rate=abc&oxygen_level=93", nil))
}

func TestEventsStream(t *testing.T) {
	ts, store, _ := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
			if line == "" && data != "" {
				return data
			}
		}
	}

	var first monitor.Snapshot
	require.NoError(t, json.Unmarshal([]byte(readEvent()), &first))
	assert.Len(t, first.Patients, 2)

	go func() { _ = store.Refresh(context.Background()) }()
	// The loading snapshot comes first and keeps the previous sequence.
	for {
		var next monitor.Snapshot
		require.NoError(t, json.Unmarshal([]byte(readEvent()), &next))
		if next.Sequence > first.Sequence {
			assert.False(t, next.Loading)
			assert.Equal(t, monitor.PhaseReady, next.Phase)
			return
		}
		assert.True(t, next.Loading)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := setupServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, _ = bufio.NewReader(resp.Body).WriteTo(buf)
	assert.Contains(t, buf.String(), "vitalwatch_gateway_calls_total")
}

type staticArchive struct {
	entries []alerts.Entry
	limits  []int
}

func (a *staticArchive) RecentAlerts(_ context.Context, limit int) ([]alerts.Entry, error) {
	a.limits = append(a.limits, limit)
	return append([]alerts.Entry(nil), a.entries...), nil
}

func TestRecentAlertsFallBackToArchive(t *testing.T) {
	gw := &fakeGateway{}
	store := monitor.New(gw)
	t.Cleanup(store.Close)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	archive := &staticArchive{entries: []alerts.Entry{
		{Alert: model.Alert{AlertID: "A2"}, ObservedAt: base.Add(time.Minute)},
		{Alert: model.Alert{AlertID: "A1"}, ObservedAt: base},
	}}
	ring := alerts.NewStore(10)
	srv := NewServer(config.NewStaticManager(nil), store, Options{Alerts: ring, Archive: archive, Gatherer: prometheus.NewRegistry()})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	var body struct {
		Alerts []alerts.Entry `json:"alerts"`
		Count  int            `json:"count"`
		Source string         `json:"source"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/alerts/recent?limit=5", &body))
	assert.Equal(t, "archive", body.Source)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "A1", body.Alerts[0].Alert.AlertID, "oldest first, like the ring")
	assert.Equal(t, []int{5}, archive.limits)

	ring.Add(alerts.Entry{Alert: model.Alert{AlertID: "A3"}, ObservedAt: base.Add(time.Hour)})
	body.Alerts = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/alerts/recent", &body))
	assert.Equal(t, "memory", body.Source)
	require.Len(t, body.Alerts, 1)
	assert.Equal(t, "A3", body.Alerts[0].Alert.AlertID)
	assert.Len(t, archive.limits, 1, "archive is not consulted while the ring has entries")
}
