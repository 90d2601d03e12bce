// Package relay is the HTTP adaptor for the six /v1 verbs, built on
// top of the id/crypto/metadata/store packages: constructor-injected
// store/logger/metrics, gorilla/mux route registration, and a
// per-handler start-time/metrics-record bracket.
package relay

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/secsend/internal/audit"
	"github.com/kenneth/secsend/internal/config"
	"github.com/kenneth/secsend/internal/metrics"
	"github.com/kenneth/secsend/internal/store"
)

// Server holds the dependencies every /v1 handler needs.
type Server struct {
	backend store.Backend
	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger
	clock   store.Clock

	cfgMu sync.RWMutex
	cfg   config.Config
}

// NewServer constructs a relay Server. clock defaults to time.Now when nil.
func NewServer(backend store.Backend, cfg config.Config, logger *logrus.Logger, m *metrics.Metrics, auditLogger audit.Logger, clock store.Clock) *Server {
	if clock == nil {
		clock = store.DefaultClock
	}
	return &Server{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		audit:   auditLogger,
		clock:   clock,
	}
}

// Config returns the currently active configuration, safe to call
// concurrently with UpdateConfig.
func (s *Server) Config() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// UpdateConfig swaps in a reloaded configuration (wired to
// config.WatchReload so TIMEOUT_S_VALID/FILESIZE_LIMIT can change
// without a restart).
func (s *Server) UpdateConfig(cfg config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
}

func (s *Server) since(start time.Time) time.Duration { return time.Since(start) }
