// Package config loads the relay's layered configuration: built-in
// defaults, an optional YAML file, then environment variables, merged
// with dario.cat/mergo and bound through spf13/viper. Config changes
// are picked up live via viper.WatchConfig, which is backed by fsnotify.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// HardwareConfig toggles platform-specific AES acceleration paths.
type HardwareConfig struct {
	EnableAESNI    bool `mapstructure:"enable_aesni" yaml:"enable_aesni"`
	EnableARMv8AES bool `mapstructure:"enable_armv8_aes" yaml:"enable_armv8_aes"`
}

// StoreBackend selects which object-store implementation the relay runs.
type StoreBackend string

const (
	StoreBackendFS StoreBackend = "fs"
	StoreBackendS3 StoreBackend = "s3"
)

// LockBackend selects which mutual-exclusion implementation guards
// concurrent writers to an object.
type LockBackend string

const (
	LockBackendFS    LockBackend = "fs"
	LockBackendRedis LockBackend = "redis"
)

// TraceExporter selects the OpenTelemetry span exporter.
type TraceExporter string

const (
	TraceExporterNone   TraceExporter = "none"
	TraceExporterStdout TraceExporter = "stdout"
	TraceExporterOTLP   TraceExporter = "otlp"
	TraceExporterJaeger TraceExporter = "jaeger"
)

// S3Config configures the alternate object-store backend.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	UsePathStyle bool `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// RedisConfig configures the alternate distributed lock backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Exporter    TraceExporter `mapstructure:"exporter" yaml:"exporter"`
	OTLPEndpoint string       `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	JaegerEndpoint string     `mapstructure:"jaeger_endpoint" yaml:"jaeger_endpoint"`
	ServiceName string        `mapstructure:"service_name" yaml:"service_name"`
}

// Config is the relay's full runtime configuration: the server's
// public-facing limits and timeouts, plus the ambient/domain-stack
// additions.
type Config struct {
	// relay limits; TimeoutSValid and FilesizeLimit are exposed verbatim
	// by GET /v1/config.
	BackendFilesRoot string  `mapstructure:"backend_files_root" yaml:"backend_files_root"`
	TimeoutSValid     []int64 `mapstructure:"timeout_s_valid" yaml:"timeout_s_valid"`
	FilesizeLimit     int64   `mapstructure:"filesize_limit" yaml:"filesize_limit"`
	ChunkSizeLimit    int     `mapstructure:"chunk_size_limit" yaml:"chunk_size_limit"`

	// ambient stack
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat  string `mapstructure:"log_format" yaml:"log_format"`

	// domain stack
	StoreBackend StoreBackend  `mapstructure:"store_backend" yaml:"store_backend"`
	LockBackend  LockBackend   `mapstructure:"lock_backend" yaml:"lock_backend"`
	S3           S3Config      `mapstructure:"s3" yaml:"s3"`
	Redis        RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Tracing      TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Hardware     HardwareConfig `mapstructure:"hardware" yaml:"hardware"`

	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`

	// AuditLogPath, when set, appends newline-delimited JSON AuditEvents
	// to this file via a batched audit.FileSink instead of stdout.
	AuditLogPath string `mapstructure:"audit_log_path" yaml:"audit_log_path"`
}

// Defaults returns the built-in configuration, the base layer that a
// config file and then environment variables are merged over.
func Defaults() Config {
	return Config{
		BackendFilesRoot: "./data",
		TimeoutSValid:    []int64{300, 86400, 604800},
		FilesizeLimit:    5 * 1 << 30, // 5 GiB
		ChunkSizeLimit:   64 << 20,    // 64 MiB
		ListenAddr:       ":8080",
		LogLevel:         "info",
		LogFormat:        "text",
		StoreBackend:     StoreBackendFS,
		LockBackend:      LockBackendFS,
		Tracing: TracingConfig{
			Exporter:    TraceExporterNone,
			ServiceName: "secsend-relay",
		},
		GCInterval: time.Hour,
	}
}

// registerDefaults tells viper about every key Config carries, so that
// AutomaticEnv has something to bind to and Unmarshal's AllSettings
// walk sees the full key set even when no config file sets them.
func registerDefaults(v *viper.Viper, d Config) {
	v.SetDefault("backend_files_root", d.BackendFilesRoot)
	v.SetDefault("timeout_s_valid", d.TimeoutSValid)
	v.SetDefault("filesize_limit", d.FilesizeLimit)
	v.SetDefault("chunk_size_limit", d.ChunkSizeLimit)

	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	v.SetDefault("store_backend", string(d.StoreBackend))
	v.SetDefault("lock_backend", string(d.LockBackend))

	v.SetDefault("s3.bucket", d.S3.Bucket)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.access_key", d.S3.AccessKey)
	v.SetDefault("s3.secret_key", d.S3.SecretKey)
	v.SetDefault("s3.use_path_style", d.S3.UsePathStyle)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("tracing.exporter", string(d.Tracing.Exporter))
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.jaeger_endpoint", d.Tracing.JaegerEndpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("hardware.enable_aesni", d.Hardware.EnableAESNI)
	v.SetDefault("hardware.enable_armv8_aes", d.Hardware.EnableARMv8AES)

	v.SetDefault("gc_interval", d.GCInterval)
	v.SetDefault("audit_log_path", d.AuditLogPath)
}

// Load builds a Config from defaults, an optional YAML file at path
// (skipped silently if empty or missing), and SECSEND_-prefixed
// environment variables, in that order of increasing precedence.
func Load(path string) (Config, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetEnvPrefix("SECSEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var fromFileAndEnv Config
	if err := v.Unmarshal(&fromFileAndEnv); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	merged := defaults
	if err := mergo.Merge(&merged, fromFileAndEnv, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("config: merge: %w", err)
	}

	return merged, nil
}

// WatchReload installs a viper file watcher (fsnotify-backed) that
// invokes onChange with a freshly reloaded Config whenever path is
// modified on disk. It is a no-op when path is empty.
func WatchReload(path string, logger *logrus.Logger, onChange func(Config)) error {
	if path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: watch read %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.WithError(err).Warn("config: reload failed, keeping previous configuration")
			return
		}
		logger.WithField("file", e.Name).Info("config: reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// AllowedTimeout reports whether requested is one of the server's
// configured timeout_s_valid choices.
func (c Config) AllowedTimeout(requested int64) bool {
	for _, t := range c.TimeoutSValid {
		if t == requested {
			return true
		}
	}
	return false
}
