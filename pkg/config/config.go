// Package config loads the service configuration from file, environment
// and defaults.
//
// Sources in order of precedence:
//  1. Environment variables (SAFE_*), plus a handful of legacy names
//  2. Configuration file (YAML)
//  3. Default values
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

	"github.com/perdedora/safe/internal/bytesize"
	"github.com/perdedora/safe/internal/cache"
	"github.com/perdedora/safe/pkg/cdn"
	"github.com/perdedora/safe/pkg/chunks"
	"github.com/perdedora/safe/pkg/ingest"
	"github.com/perdedora/safe/pkg/retention"
	"github.com/perdedora/safe/pkg/scanner"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/thumbs"
	"github.com/perdedora/safe/pkg/zipper"
)

// Config is the full service configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the HTTP listener and service identity.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the persistence backend.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Paths configures on-disk storage locations.
	Paths PathsConfig `mapstructure:"paths" yaml:"paths"`

	// Uploads configures the ingest pipeline.
	Uploads UploadsConfig `mapstructure:"uploads" yaml:"uploads"`

	// Chunks configures chunked upload sessions.
	Chunks chunks.Config `mapstructure:"chunks" yaml:"chunks"`

	// Retention configures temporary uploads per usergroup.
	Retention retention.Config `mapstructure:"retention" yaml:"retention"`

	// Scanner configures ClamAV malware scanning.
	Scanner scanner.Config `mapstructure:"scanner" yaml:"scanner"`

	// CDN configures Cloudflare cache purging.
	CDN cdn.Config `mapstructure:"cdn" yaml:"cdn"`

	// Zip configures album archive downloads.
	Zip zipper.Config `mapstructure:"zip" yaml:"zip"`

	// Thumbs configures thumbnail generation.
	Thumbs thumbs.Config `mapstructure:"thumbs" yaml:"thumbs"`

	// Cache sizes the in-memory render caches.
	Cache cache.Config `mapstructure:"cache" yaml:"cache"`

	// Metrics enables the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Sweep configures the retention sweeper.
	Sweep SweepConfig `mapstructure:"sweep" yaml:"sweep"`

	// Pages configures list pagination.
	Pages PagesConfig `mapstructure:"pages" yaml:"pages"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// ServerConfig configures the HTTP listener and service identity.
type ServerConfig struct {
	// Host is the listen address.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Domain is the public base URL uploads are served under.
	Domain string `mapstructure:"domain" yaml:"domain"`

	// HomeDomain is the public base URL of the landing pages; falls back
	// to Domain when empty.
	HomeDomain string `mapstructure:"home_domain" yaml:"home_domain"`

	// Private requires a token for uploading.
	Private bool `mapstructure:"private" yaml:"private"`

	// EnableUserAccounts allows self-registration.
	EnableUserAccounts bool `mapstructure:"enable_user_accounts" yaml:"enable_user_accounts"`

	// TrustProxy makes client IPs come from X-Forwarded-For.
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`

	// ServeFiles serves the uploaded files directly from this process
	// instead of delegating to a reverse proxy.
	ServeFiles bool `mapstructure:"serve_files" yaml:"serve_files"`

	// ShutdownTimeout caps graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// PathsConfig configures on-disk storage locations.
type PathsConfig struct {
	// UploadsRoot holds uploads and the chunks/thumbs/zips subtrees.
	UploadsRoot string `mapstructure:"uploads_root" validate:"required" yaml:"uploads_root"`

	// ErrorPages holds custom HTTP error pages; optional.
	ErrorPages string `mapstructure:"error_pages" yaml:"error_pages"`
}

// UploadsConfig wraps the ingest pipeline configuration, replacing the
// raw byte counts with human-readable sizes ("500Mi", "10GB").
type UploadsConfig struct {
	// MaxSize is the per-file cap.
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`

	// URLMaxSize is the per-fetch cap for URL intake; 0 = same as MaxSize.
	URLMaxSize bytesize.ByteSize `mapstructure:"url_max_size" yaml:"url_max_size"`

	// NoHashing turns BLAKE3 hashing (and dedup) off. Hashing is on by
	// default, so the knob is the negative.
	NoHashing bool `mapstructure:"no_hashing" yaml:"no_hashing"`

	Ingest ingest.Config `mapstructure:",squash" yaml:",inline"`
}

// IngestConfig resolves the byte sizes and flags into the pipeline
// configuration.
func (u *UploadsConfig) IngestConfig() ingest.Config {
	cfg := u.Ingest
	cfg.MaxSize = int64(u.MaxSize)
	cfg.URL.MaxSize = int64(u.URLMaxSize)
	cfg.Hashing = !u.NoHashing
	return cfg
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SweepConfig configures the retention sweeper.
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// PagesConfig configures list pagination.
type PagesConfig struct {
	// FilesPerPage is the page size of the uploads and albums lists.
	FilesPerPage int `mapstructure:"files_per_page" validate:"min=1" yaml:"files_per_page"`
}

// Load loads configuration from configPath (empty uses the default
// location), environment and defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes cfg to path in YAML. Permissions are restricted
// because the file may carry database and CDN credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// SAFE_SERVER_PORT=9999, SAFE_SCANNER_ENABLED=true, and so on.
	v.SetEnvPrefix("SAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "safe")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "safe")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides honors the short environment names deployments
// commonly set alongside the SAFE_* tree.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DOMAIN"); v != "" {
		cfg.Server.Domain = v
	}
	if v := os.Getenv("HOME_DOMAIN"); v != "" {
		cfg.Server.HomeDomain = v
	}
	if v := os.Getenv("PRIVATE"); v != "" {
		cfg.Server.Private = v == "true" || v == "1"
	}
	if v := os.Getenv("ENABLE_USER_ACCOUNTS"); v != "" {
		cfg.Server.EnableUserAccounts = v == "true" || v == "1"
	}
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.Server.TrustProxy = v == "true" || v == "1"
	}
	if v := os.Getenv("SERVE_FILES_WITH_NODE"); v != "" {
		cfg.Server.ServeFiles = v == "true" || v == "1"
	}
}

// configDecodeHooks combines the custom type hooks: human-readable byte
// sizes and durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
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
