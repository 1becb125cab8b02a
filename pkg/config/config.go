// Package config loads and validates coldvault's static configuration:
// logging, one or more named repositories (catalog backend, object-store
// backend, volume-codec parameters), and the default purge/compact
// thresholds the CLI falls back to when a command doesn't override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/coldvault/coldvault/internal/bytesize"
	"github.com/coldvault/coldvault/pkg/catalog"
)

// Config represents coldvault's static configuration.
//
// Dynamic state (fileset history, volume lifecycle, block catalog) lives
// entirely in each repository's catalog database, not here.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (COLDVAULT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry trace export for purge/compact/
	// verify/repair runs and their object-store calls.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Profiling controls continuous CPU/heap profiling for long-running
	// purge/compact invocations.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`

	// ShutdownTimeout is the maximum time to wait for an in-flight
	// purge or compact run to reach a commit point during shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// DefaultRepository names the entry in Repositories a command uses
	// when its --repository flag is omitted.
	DefaultRepository string `mapstructure:"default_repository" yaml:"default_repository"`

	// Repositories maps a short name to a repository's configuration.
	// A single coldvault installation can target more than one backup
	// repository (e.g. "home", "offsite").
	Repositories map[string]RepositoryConfig `mapstructure:"repositories" validate:"required,dive" yaml:"repositories"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry span export.
type TelemetryConfig struct {
	// Enabled turns on span export. Disabled by default; a CLI
	// invocation with tracing off uses a no-op tracer with no cost.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is reported as the trace's service.name resource
	// attribute.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// Output selects where spans are written: "stdout", "stderr", or a
	// file path.
	Output string `mapstructure:"output" yaml:"output"`

	// SampleRate is the trace sampling rate, from 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// ProfilingConfig controls continuous CPU/heap/mutex/block profiling via
// Pyroscope. Off by default; purge and compact runs over large
// repositories can run long enough to be worth profiling in place.
type ProfilingConfig struct {
	// Enabled turns on the Pyroscope profiler for the lifetime of the
	// CLI invocation.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server address, e.g. "http://localhost:4040".
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profiles to collect: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// RepositoryConfig bundles everything needed to open and operate on one
// backup repository: where its catalog lives, where its remote volumes
// live, the parameters new volumes are written with, and the default
// thresholds its purge/compact runs use unless a command overrides them.
type RepositoryConfig struct {
	// Catalog selects and configures the relational catalog backend
	// (spec.md §3 "Catalog").
	Catalog catalog.Config `mapstructure:"catalog" yaml:"catalog"`

	// ObjectStore selects and configures the remote volume backend
	// (spec.md §4.2).
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`

	// Volume carries the codec parameters new dblock/dindex/dfileset
	// volumes are written with (spec.md §6 "Volume container").
	Volume VolumeConfig `mapstructure:"volume" validate:"required" yaml:"volume"`

	// Purge carries the defaults a purge run falls back to.
	Purge PurgeDefaults `mapstructure:"purge" yaml:"purge"`

	// Compact carries the defaults a compact run falls back to.
	Compact CompactDefaults `mapstructure:"compact" yaml:"compact"`
}

// VolumeConfig carries the codec parameters a repository's volumes are
// written with. These fields are fixed at repository-init time; changing
// them for an existing repository would make previously written volumes
// unreadable. Load does not compare them with the values existing
// volumes were written with.
type VolumeConfig struct {
	// Prefix is prepended to every volume filename (spec.md §4.2
	// "Volume naming").
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// Passphrase derives the volume encryption key (spec.md §6
	// "Encryption"). Never logged; validated non-empty.
	Passphrase string `mapstructure:"passphrase" validate:"required" yaml:"passphrase,omitempty"`

	// Blocksize is the target size of a deduplication block. Accepts
	// human-readable sizes like "1MiB" or "4Mi".
	Blocksize bytesize.ByteSize `mapstructure:"blocksize" yaml:"blocksize"`

	// BlockHashAlgo hashes individual blocks for deduplication lookup.
	BlockHashAlgo catalog.BlockHashAlgorithm `mapstructure:"block_hash_algo" validate:"required" yaml:"block_hash_algo"`

	// FileHashAlgo hashes a file's full content for the whole-file
	// verification described in spec.md §4.4.
	FileHashAlgo catalog.BlockHashAlgorithm `mapstructure:"file_hash_algo" validate:"required" yaml:"file_hash_algo"`

	// AppVersion is stamped into every volume manifest (spec.md §6).
	AppVersion string `mapstructure:"app_version" yaml:"app_version"`
}

// ObjectStoreConfig selects and configures a remote volume backend.
type ObjectStoreConfig struct {
	// Type selects the backend. Valid values: "local", "s3".
	Type string `mapstructure:"type" validate:"required,oneof=local s3" yaml:"type"`

	Local LocalConfig `mapstructure:"local" yaml:"local"`
	S3    S3Config    `mapstructure:"s3" yaml:"s3"`

	// Adapter configures the upload/delete queue's retry behavior
	// (spec.md §5 "Propagation policy").
	Adapter AdapterConfig `mapstructure:"adapter" yaml:"adapter"`
}

// LocalConfig configures the filesystem-backed object store, used for
// single-machine setups and tests.
type LocalConfig struct {
	// Dir is the directory volumes are written under.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// S3Config configures the S3-compatible object store.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// AdapterConfig configures the object-store adapter's async queue and
// retry behavior (mirrors objectstore.AdapterConfig).
type AdapterConfig struct {
	QueueSize  int           `mapstructure:"queue_size" yaml:"queue_size,omitempty"`
	MaxRetries uint64        `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff,omitempty"`
}

// PurgeDefaults carries the defaults a purge run falls back to when a
// command doesn't override them (spec.md §4.5).
type PurgeDefaults struct {
	// AutoCompact invokes the compact engine after a successful rewrite.
	AutoCompact bool `mapstructure:"auto_compact" yaml:"auto_compact"`

	// SkipBackendVerification skips precondition 5's remote-list check.
	SkipBackendVerification bool `mapstructure:"skip_backend_verification" yaml:"skip_backend_verification"`
}

// CompactDefaults carries the defaults a compact run falls back to
// (spec.md §4.6).
type CompactDefaults struct {
	// ReferencedFractionThreshold selects a volume for rewrite below
	// this referenced fraction. Zero uses compact's own default (0.2).
	ReferencedFractionThreshold float64 `mapstructure:"referenced_fraction_threshold" validate:"omitempty,gte=0,lte=1" yaml:"referenced_fraction_threshold,omitempty"`

	// WastedSpaceThreshold selects a volume for rewrite above this many
	// wasted bytes, regardless of fraction. Zero disables this trigger.
	WastedSpaceThreshold int64 `mapstructure:"wasted_space_threshold" yaml:"wasted_space_threshold,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (COLDVAULT_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages, matching the
// CLI's --config flag: an explicit path must exist, an omitted path falls
// back to the default location and instructs the user to run
// "coldvault init" if nothing is there.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  coldvault init\n\n"+
				"Or specify a custom config file:\n"+
				"  coldvault <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  coldvault init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format, with permissions restricted to the owner since repository
// passphrases live in this file.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// setupViper configures viper with environment variable and config file
// search settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("COLDVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error) where fileFound indicates whether a config file was
// found at all.
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

// configDecodeHooks returns the combined decode hook for ByteSize and
// time.Duration fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// enabling config files to use human-readable sizes like "1Gi" or "4MB".
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

// durationDecodeHook converts strings and numbers to time.Duration,
// enabling config files to use human-readable durations like "30s".
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

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME, then ~/.config, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "coldvault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "coldvault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
