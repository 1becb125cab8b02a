package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/coldvault/coldvault/internal/bytesize"
	"github.com/coldvault/coldvault/pkg/catalog"
)

// ApplyDefaults fills in missing configuration with sensible defaults.
// It mutates cfg in place.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyProfilingDefaults(&cfg.Profiling)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Repositories == nil {
		cfg.Repositories = make(map[string]RepositoryConfig)
	}
	for name, repo := range cfg.Repositories {
		applyRepositoryDefaults(name, &repo)
		cfg.Repositories[name] = repo
	}

	if cfg.DefaultRepository == "" && len(cfg.Repositories) == 1 {
		for name := range cfg.Repositories {
			cfg.DefaultRepository = name
		}
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "coldvault"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}
}

func applyRepositoryDefaults(name string, cfg *RepositoryConfig) {
	cfg.Catalog.ApplyDefaults()
	applyObjectStoreDefaults(name, &cfg.ObjectStore)
	applyVolumeDefaults(&cfg.Volume)
	applyCompactDefaults(&cfg.Compact)
}

func applyObjectStoreDefaults(repoName string, cfg *ObjectStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}
	if cfg.Type == "local" && cfg.Local.Dir == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		cfg.Local.Dir = filepath.Join(configDir, "coldvault", "volumes", repoName)
	}
	if cfg.Adapter.QueueSize <= 0 {
		cfg.Adapter.QueueSize = 1000
	}
	if cfg.Adapter.MaxRetries == 0 {
		cfg.Adapter.MaxRetries = 5
	}
	if cfg.Adapter.MaxBackoff <= 0 {
		cfg.Adapter.MaxBackoff = 30 * time.Second
	}
}

func applyVolumeDefaults(cfg *VolumeConfig) {
	if cfg.Prefix == "" {
		cfg.Prefix = "cv"
	}
	if cfg.Blocksize <= 0 {
		cfg.Blocksize = 4 * bytesize.MiB
	}
	if cfg.BlockHashAlgo == "" {
		cfg.BlockHashAlgo = catalog.BlockHashSHA256
	}
	if cfg.FileHashAlgo == "" {
		cfg.FileHashAlgo = catalog.BlockHashSHA256
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = "coldvault"
	}
}

func applyCompactDefaults(cfg *CompactDefaults) {
	if cfg.ReferencedFractionThreshold <= 0 {
		cfg.ReferencedFractionThreshold = 0.2
	}
}

// GetDefaultConfig returns a Config populated entirely from defaults,
// used when no config file is found (spec.md's CLI still needs a
// repository defined before any command but init can do anything, so the
// returned config has an empty Repositories map rather than a guessed
// one).
func GetDefaultConfig() *Config {
	cfg := &Config{
		Repositories: make(map[string]RepositoryConfig),
	}
	ApplyDefaults(cfg)
	return cfg
}
