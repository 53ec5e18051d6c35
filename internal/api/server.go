package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/config"
	"vitalwatch/internal/gateway"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/model"
	"vitalwatch/internal/monitor"
)

// Monitor is the part of the monitor store the API drives.
type Monitor interface {
	Snapshot() monitor.Snapshot
	Refresh(ctx context.Context) error
	ClearError()
	CreatePatient(ctx context.Context, in model.PatientInput) (model.Patient, error)
	UpdatePatient(ctx context.Context, id string, in model.PatientInput) error
	DeletePatient(ctx context.Context, id string) error
	SendTelemetry(ctx context.Context, reading model.TelemetryReading) (model.TelemetryResult, error)
	Subscribe(buffer int) (<-chan monitor.Snapshot, func())
}

// AlertArchive serves alerts logged by earlier runs.
type AlertArchive interface {
	RecentAlerts(ctx context.Context, limit int) ([]alerts.Entry, error)
}

type Server struct {
	cfg      *config.Manager
	monitor  Monitor
	metrics  *metrics.Store
	alerts   *alerts.Store
	archive  AlertArchive
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	version  string
}

type Options struct {
	Metrics  *metrics.Store
	Alerts   *alerts.Store
	Archive  AlertArchive
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Version  string
}

func NewServer(cfg *config.Manager, mon Monitor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		monitor:  mon,
		metrics:  opts.Metrics,
		alerts:   opts.Alerts,
		archive:  opts.Archive,
		gatherer: gatherer,
		logger:   logger,
		version:  opts.Version,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/patients", s.handlePatients).Methods(http.MethodGet)
	r.HandleFunc("/patients", s.handleCreatePatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}", s.handlePatient).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}", s.handleUpdatePatient).Methods(http.MethodPut)
	r.HandleFunc("/patients/{id}", s.handleDeletePatient).Methods(http.MethodDelete)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/recent", s.handleRecentAlerts).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/telemetry", s.handleTelemetry).Methods(http.MethodPost)
	r.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/error/clear", s.handleClearError).Methods(http.MethodPost)
	r.HandleFunc("/classify", s.handleClassify).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func Start(ctx context.Context, cfg *config.Manager, srv *Server, logger *zap.Logger) *http.Server {
	if cfg == nil || srv == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	current := cfg.Get().API
	if !current.Enabled {
		logger.Info("api disabled")
		return nil
	}
	logger.Info("api enabled", zap.String("addr", current.Addr))

	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", zap.Error(err))
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status          string            `json:"status"`
	Time            string            `json:"time"`
	Version         string            `json:"version"`
	ConfigPath      string            `json:"config_path"`
	Phase           monitor.Phase     `json:"phase"`
	Loading         bool              `json:"loading"`
	Stale           bool              `json:"stale"`
	Error           string            `json:"error,omitempty"`
	Sequence        uint64            `json:"sequence"`
	UpdatedAt       *time.Time        `json:"updated_at,omitempty"`
	RefreshInterval string            `json:"refresh_interval"`
	Gateway         string            `json:"gateway"`
	Operations      []metrics.OpStats `json:"operations"`
	Ingest          ingestStatus      `json:"ingest"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	TCPStream bool `json:"tcp_stream"`
	FileTail  bool `json:"file_tail"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	snap := s.monitor.Snapshot()
	resp := statusResponse{
		Status:          "ok",
		Time:            time.Now().UTC().Format(time.RFC3339Nano),
		Version:         s.version,
		ConfigPath:      s.cfg.Path(),
		Phase:           snap.Phase,
		Loading:         snap.Loading,
		Stale:           snap.Stale(),
		Error:           snap.Error,
		Sequence:        snap.Sequence,
		RefreshInterval: cfg.Monitor.RefreshInterval.String(),
		Gateway:         cfg.Gateway.BaseURL,
		Operations:      []metrics.OpStats{},
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
		},
	}
	if !snap.UpdatedAt.IsZero() {
		ts := snap.UpdatedAt
		resp.UpdatedAt = &ts
	}
	if snap.Phase == monitor.PhaseFailed {
		resp.Status = "degraded"
	}
	if s.metrics != nil {
		resp.Operations = s.metrics.GetAll()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeCommandError maps a failed command to a status. Gateway failures
// carry their message through untouched.
func (s *Server) writeCommandError(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, monitor.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		s.logger.Warn("command rejected by gateway",
			zap.String("op", op),
			zap.Int("status", gwErr.Status),
			zap.String("message", gwErr.Message),
		)
	} else {
		s.logger.Warn("command failed", zap.String("op", op), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
