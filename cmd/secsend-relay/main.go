// Command secsend-relay runs the zero-knowledge file transfer relay:
// it never sees plaintext names, mime types, or content, only the
// opaque ciphertext and sealed metadata clients hand it. Startup uses
// logrus for structured logs and signal.Notify + http.Server.Shutdown
// for graceful exit, with cobra subcommands fronting the server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/secsend/internal/audit"
	"github.com/kenneth/secsend/internal/config"
	cryptopkg "github.com/kenneth/secsend/internal/crypto"
	"github.com/kenneth/secsend/internal/metrics"
	"github.com/kenneth/secsend/internal/relay"
	"github.com/kenneth/secsend/internal/store"
	"github.com/kenneth/secsend/internal/tracing"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "secsend-relay",
		Short: "Zero-knowledge file transfer relay",
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.WithFields(logrus.Fields{
		"listen_addr":   cfg.ListenAddr,
		"store_backend": cfg.StoreBackend,
		"lock_backend":  cfg.LockBackend,
		"version":       version,
	}).Info("starting secsend-relay")

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	m := metrics.NewMetrics()
	m.StartSystemMetricsCollector(ctx)
	m.SetHardwareAESAcceleration(runtime.GOARCH, cryptopkg.IsHardwareAccelerationEnabled(cfg.Hardware))

	backend, healthCheck, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build store backend: %w", err)
	}

	var auditWriter audit.EventWriter
	if cfg.AuditLogPath != "" {
		auditWriter = audit.NewBatchSink(audit.NewFileSink(cfg.AuditLogPath), 100, 5*time.Second, 3, 500*time.Millisecond)
		logger.WithField("path", cfg.AuditLogPath).Info("audit events writing to file")
	}
	auditLogger := audit.NewLogger(10000, auditWriter)
	defer auditLogger.Close()

	srv := relay.NewServer(backend, cfg, logger, m, auditLogger, store.DefaultClock)

	if err := config.WatchReload(configPath, logger, srv.UpdateConfig); err != nil {
		logger.WithError(err).Warn("config hot-reload disabled")
	}

	router := srv.NewRouter(m, healthCheck)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  0, // uploads can be long-running; no per-request deadline
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildBackend selects the store.Backend per cfg.StoreBackend, wiring
// a RedisLocker over it when cfg.LockBackend is "redis" for multi-process
// deployments sharing one object store. It also returns a readiness
// check the /readyz endpoint can call.
func buildBackend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Backend, func(context.Context) error, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendS3:
		backend, err := store.NewS3Backend(ctx, cfg.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("new s3 backend: %w", err)
		}
		if cfg.LockBackend == config.LockBackendRedis {
			ttl := cfg.GCInterval
			if ttl <= 0 {
				ttl = time.Hour
			}
			backend.WithLocker(store.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, ttl))
			logger.WithField("addr", cfg.Redis.Addr).Info("using redis write-exclusion locks")
		}
		return backend, func(context.Context) error { return nil }, nil
	case config.StoreBackendFS, "":
		if cfg.LockBackend == config.LockBackendRedis {
			logger.Warn("lock_backend=redis has no effect with store_backend=fs; filesystem locking is always used")
		}
		backend, err := store.NewFSBackend(cfg.BackendFilesRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("new fs backend: %w", err)
		}
		healthCheck := func(context.Context) error {
			probe := cfg.BackendFilesRoot + "/.secsend-health"
			if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
				return fmt.Errorf("backend root not writable: %w", err)
			}
			return os.Remove(probe)
		}
		return backend, healthCheck, nil
	default:
		return nil, nil, fmt.Errorf("unknown store_backend %q", cfg.StoreBackend)
	}
}

