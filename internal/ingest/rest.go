package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vitalwatch/internal/config"
)

type RESTServer struct {
	lines  *lineHandler
	logger *zap.Logger
}

func NewRESTHandler(out chan<- Event, logger *zap.Logger, observer Observer) http.Handler {
	logger = orNop(logger)
	if observer == nil {
		observer = nopObserver{}
	}
	server := &RESTServer{
		lines:  &lineHandler{source: SourceREST, parser: NewParser(), out: out, logger: logger, observer: observer},
		logger: logger,
	}
	r := mux.NewRouter()
	r.HandleFunc("/readings", server.handleReadings).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	return r
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- Event, logger *zap.Logger, observer Observer) *http.Server {
	logger = orNop(logger)
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		logger.Info("rest ingest disabled")
		return nil
	}
	logger.Info("rest ingest enabled", zap.String("addr", current.Addr))
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTHandler(out, logger, observer),
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
			logger.Error("rest ingest server error", zap.Error(err))
		}
	}()
	return httpServer
}

// handleReadings accepts one JSON reading or an array of them.
func (s *RESTServer) handleReadings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var list []map[string]interface{}
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = append(list, obj)
	}

	accepted, failed := 0, 0
	for _, obj := range list {
		fields := ParseJSONMap(obj)
		if s.lines.handleFields(r.Context(), *fields) {
			accepted++
		} else {
			failed++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if accepted == 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
