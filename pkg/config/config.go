// Package config loads and validates the qopy server configuration from
// file, environment, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/qopy-app/qopy/internal/bytesize"
	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/store"
	"github.com/qopy-app/qopy/pkg/sweeper"
)

// Config represents the qopy server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (QOPY_*, plus the bare aliases DATABASE_URL,
//     STORAGE_PATH, MAX_FILE_SIZE, CHUNK_SIZE_DEFAULT, UPLOAD_TTL,
//     SWEEP_INTERVAL, ORPHAN_GRACE, ADMIN_TOKEN)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Database configures the metadata store (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage configures the filesystem stores and size limits.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Upload configures upload session behavior.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Sweep configures the background sweeper.
	Sweep sweeper.Config `mapstructure:"sweep" yaml:"sweep"`

	// Guard configures rate limits and the brute-force blocker.
	Guard guard.Config `mapstructure:"guard" yaml:"guard"`

	// Admin configures the admin API surface.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Port the API server listens on. Default 8080.
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// BaseURL is the external base used when building clip URLs,
	// e.g. "https://qopy.example". Defaults to "http://localhost:<port>".
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// CORSOrigins is the allowlist for cross-origin requests. Empty means
	// same-origin only.
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`

	// TrustProxy honors X-Forwarded-For / X-Real-IP from a fronting
	// reverse proxy when resolving the client IP for rate limiting.
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// StorageConfig configures the filesystem stores and size limits.
type StorageConfig struct {
	// Path is the storage root. Chunks live under {path}/temp, finished
	// blobs under {path}/blobs.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// MaxFileSize caps a session's declared filesize. Default 100Mi.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// ChunkSize is the negotiated upload chunk size. Default 5Mi.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// MaxInlineText caps the payload of an inline text clip. Default 1Mi.
	MaxInlineText bytesize.ByteSize `mapstructure:"max_inline_text" yaml:"max_inline_text"`
}

// TempDir returns the chunk store root.
func (c *StorageConfig) TempDir() string {
	return filepath.Join(c.Path, "temp")
}

// BlobDir returns the blob store root.
func (c *StorageConfig) BlobDir() string {
	return filepath.Join(c.Path, "blobs")
}

// UploadConfig configures upload session behavior.
type UploadConfig struct {
	// TTL is how long an incomplete session may live. Default 1h.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// MaxConcurrent caps in-flight upload requests. Default 64.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// AdminConfig configures the admin API surface.
type AdminConfig struct {
	// Token is the bearer token required on /api/admin endpoints. An empty
	// token disables the admin surface entirely.
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics on the main router.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsEnabled reports whether /metrics should be served. Defaults to true.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// Load loads configuration from file, environment, and defaults. An empty
// configPath means environment and defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load, exiting the process on failure. Intended for command
// startup paths.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// ApplyDefaults fills in missing values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 2 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	cfg.Database.ApplyDefaults()

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/storage"
	}
	if cfg.Storage.MaxFileSize == 0 {
		cfg.Storage.MaxFileSize = 100 * bytesize.MiB
	}
	if cfg.Storage.ChunkSize == 0 {
		cfg.Storage.ChunkSize = 5 * bytesize.MiB
	}
	if cfg.Storage.MaxInlineText == 0 {
		cfg.Storage.MaxInlineText = 1 * bytesize.MiB
	}

	if cfg.Upload.TTL == 0 {
		cfg.Upload.TTL = time.Hour
	}
	if cfg.Upload.MaxConcurrent == 0 {
		cfg.Upload.MaxConcurrent = 64
	}

	cfg.Sweep.ApplyDefaults()
	cfg.Guard.ApplyDefaults()
}

// Validate checks structural and semantic constraints.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if err := cfg.Database.Validate(); err != nil {
		return err
	}
	if cfg.Storage.ChunkSize > cfg.Storage.MaxFileSize {
		return fmt.Errorf("storage.chunk_size (%s) must not exceed storage.max_file_size (%s)",
			cfg.Storage.ChunkSize, cfg.Storage.MaxFileSize)
	}
	return nil
}

// SaveConfig writes the configuration as YAML with restricted permissions;
// the admin token lives in this file.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires environment variables and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("QOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare aliases kept for deployment compatibility.
	_ = v.BindEnv("database.url", "QOPY_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("storage.path", "QOPY_STORAGE_PATH", "STORAGE_PATH")
	_ = v.BindEnv("storage.max_file_size", "QOPY_STORAGE_MAX_FILE_SIZE", "MAX_FILE_SIZE")
	_ = v.BindEnv("storage.chunk_size", "QOPY_STORAGE_CHUNK_SIZE", "CHUNK_SIZE_DEFAULT")
	_ = v.BindEnv("upload.ttl", "QOPY_UPLOAD_TTL", "UPLOAD_TTL")
	_ = v.BindEnv("sweep.interval", "QOPY_SWEEP_INTERVAL", "SWEEP_INTERVAL")
	_ = v.BindEnv("sweep.orphan_grace", "QOPY_SWEEP_ORPHAN_GRACE", "ORPHAN_GRACE")
	_ = v.BindEnv("admin.token", "QOPY_ADMIN_TOKEN", "ADMIN_TOKEN")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// decodeHooks returns the combined decode hook for custom config types.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so a
// config file can say "100Mi", "5MB", or a plain byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
