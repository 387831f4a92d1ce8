// Package server exposes health and Prometheus metrics endpoints for the
// duration of a rebalance run.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rebalancer/internal/core"
)

type HealthServer struct {
	port   string
	logger core.ILogger
	broker core.IBroker
	srv    *http.Server
	mu     sync.RWMutex
	status map[string]string
}

func NewHealthServer(port string, logger core.ILogger, broker core.IBroker) *HealthServer {
	return &HealthServer{
		port:   port,
		logger: logger.WithField("component", "health_server"),
		broker: broker,
		status: make(map[string]string),
	}
}

func (s *HealthServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    ":" + s.port,
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting health server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health server failed", "error", err)
		}
	}()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// UpdateStatus publishes a key/value pair on the /status endpoint, e.g. the
// current executor state.
func (s *HealthServer) UpdateStatus(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = value
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
		"broker": s.broker.GetName(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.broker.CheckHealth(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshot := make(map[string]string, len(s.status))
	for k, v := range s.status {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	data, _ := json.Marshal(snapshot)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
