package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vitalwatch/internal/model"
)

const opRefresh = "refresh"

// OpStats summarises the outcomes of one kind of gateway round trip.
type OpStats struct {
	Op           string    `json:"op"`
	Calls        int       `json:"calls"`
	Failures     int       `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	LastAt       time.Time `json:"last_at"`
	LastDuration string    `json:"last_duration"`
}

type Store struct {
	mu   sync.RWMutex
	byOp map[string]*OpStats

	calls     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	ward      *prometheus.GaugeVec
	readings  *prometheus.CounterVec
}

// NewStore registers its collectors with reg when reg is non-nil.
func NewStore(reg prometheus.Registerer) *Store {
	s := &Store{
		byOp: make(map[string]*OpStats),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalwatch_gateway_calls_total",
				Help: "Gateway round trips by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalwatch_gateway_call_duration_seconds",
				Help:    "Duration of gateway round trips in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"op"},
		),
		ward: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vitalwatch_snapshot_value",
				Help: "Aggregate values of the last applied snapshot",
			},
			[]string{"stat"},
		),
		readings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalwatch_ingest_readings_total",
				Help: "Telemetry readings seen by feed sources",
			},
			[]string{"source", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(s.calls, s.durations, s.ward, s.readings)
	}
	return s
}

func (s *Store) ObserveRefresh(elapsed time.Duration, err error) {
	s.record(opRefresh, elapsed, err)
}

func (s *Store) ObserveCommand(op string, elapsed time.Duration, err error) {
	s.record(op, elapsed, err)
}

func (s *Store) ObserveStats(st model.Stats) {
	s.ward.WithLabelValues("total_patients").Set(float64(st.TotalPatients))
	s.ward.WithLabelValues("active_patients").Set(float64(st.ActivePatients))
	s.ward.WithLabelValues("critical_alerts_today").Set(float64(st.CriticalAlertsToday))
	s.ward.WithLabelValues("unresolved_alerts").Set(float64(st.UnresolvedAlerts))
	s.ward.WithLabelValues("avg_heart_rate_today").Set(float64(st.AvgHeartRateToday))
	s.ward.WithLabelValues("avg_oxygen_level_today").Set(float64(st.AvgOxygenLevelToday))
	s.ward.WithLabelValues("total_alerts_today").Set(float64(st.TotalAlertsToday))
}

func (s *Store) ObserveReading(source, outcome string) {
	s.readings.WithLabelValues(source, outcome).Inc()
}

func (s *Store) record(op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.calls.WithLabelValues(op, outcome).Inc()
	s.durations.WithLabelValues(op).Observe(elapsed.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byOp[op]
	if !ok {
		st = &OpStats{Op: op}
		s.byOp[op] = st
	}
	st.Calls++
	st.LastAt = time.Now().UTC()
	st.LastDuration = elapsed.String()
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
}

func (s *Store) Get(op string) (OpStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byOp[op]
	if !ok {
		return OpStats{}, false
	}
	return *st, true
}

// GetAll returns every operation sorted by name.
func (s *Store) GetAll() []OpStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OpStats, 0, len(s.byOp))
	for _, st := range s.byOp {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOp = make(map[string]*OpStats)
}
