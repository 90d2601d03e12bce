package relay

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kenneth/secsend/internal/metrics"
	"github.com/kenneth/secsend/internal/middleware"
)

// NewRouter builds the full HTTP surface: the six /v1 verbs plus the
// ambient ops endpoints (healthz/readyz/livez/metrics).
func (s *Server) NewRouter(m *metrics.Metrics, storeHealthCheck func(context.Context) error) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RecoveryMiddleware(s.logger))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(s.logger))

	r.HandleFunc("/healthz", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", metrics.ReadinessHandler(storeHealthCheck)).Methods(http.MethodGet)
	r.HandleFunc("/livez", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/upload/new", s.HandleUploadNew).Methods(http.MethodPost)
	v1.HandleFunc("/upload/push/{root_id}", s.HandleUploadPush).Methods(http.MethodPost)
	v1.HandleFunc("/upload/finish/{root_id}", s.HandleUploadFinish).Methods(http.MethodPost)
	v1.HandleFunc("/metadata/{file_id}", s.HandleMetadata).Methods(http.MethodGet)
	v1.HandleFunc("/download/{file_id}", s.HandleDownload).Methods(http.MethodGet)
	v1.HandleFunc("/delete/{root_id}", s.HandleDelete).Methods(http.MethodPost)
	v1.HandleFunc("/config", s.HandleConfig).Methods(http.MethodGet)

	return r
}
