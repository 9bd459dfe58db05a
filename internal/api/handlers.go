package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"state": "healthy"}
	healthy := true
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			status[name] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		status[name] = "healthy"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	s.respondWithJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	imported, rejected, retrying := s.store.Counts()
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"imported":    imported,
		"rejected":    rejected,
		"retry_queue": retrying,
		"sites":       s.store.StatsSnapshot(),
	})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
