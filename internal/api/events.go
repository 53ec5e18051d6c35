package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams one "snapshot" event per published snapshot,
// starting with the current one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	clientID := uuid.NewString()
	updates, cancel := s.monitor.Subscribe(4)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	s.logger.Debug("event stream opened", zap.String("client_id", clientID))
	defer s.logger.Debug("event stream closed", zap.String("client_id", clientID))

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Warn("encode snapshot event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Sequence, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
