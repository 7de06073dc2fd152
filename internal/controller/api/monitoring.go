package api

import (
	"database/sql"
	"net/http"
	_ "net/http/pprof"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MonitoringServer struct {
	router   *mux.Router
	config   *config.Config
	database *sql.DB
}

func NewMonitoringServer(r *mux.Router, cfg *config.Config, database *sql.DB) *MonitoringServer {
	return &MonitoringServer{
		router:   r,
		config:   cfg,
		database: database,
	}
}

func (s *MonitoringServer) Routes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/liveness", s.handleLiveness()).Methods(http.MethodGet)
	s.router.HandleFunc("/readiness", s.handleReadiness()).Methods(http.MethodGet)

	if s.config.Profile {
		logger.Log.Warn("WARNING: Enabling the profiler endpoint!!")
		s.router.PathPrefix("/debug").Handler(http.DefaultServeMux)
	}
}

func (s *MonitoringServer) handleLiveness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func (s *MonitoringServer) handleReadiness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.database != nil {
			if err := s.database.PingContext(req.Context()); err != nil {
				logger.LogError("Readiness database ping failed", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
