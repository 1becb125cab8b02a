package config

import (
	"testing"
	"time"

	"github.com/coldvault/coldvault/pkg/catalog"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Telemetry.ServiceName != "coldvault" {
		t.Errorf("expected default service name coldvault, got %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Telemetry.Output != "stdout" {
		t.Errorf("expected default telemetry output stdout, got %q", cfg.Telemetry.Output)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
}

func TestApplyDefaults_Profiling(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Profiling.Endpoint != "http://localhost:4040" {
		t.Errorf("expected default profiling endpoint, got %q", cfg.Profiling.Endpoint)
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		t.Errorf("expected default profile types to be populated")
	}
}

func TestApplyDefaults_RepositoryVolume(t *testing.T) {
	cfg := &Config{
		Repositories: map[string]RepositoryConfig{
			"home": {},
		},
	}
	ApplyDefaults(cfg)

	repo := cfg.Repositories["home"]
	if repo.Volume.Prefix != "cv" {
		t.Errorf("expected default prefix cv, got %q", repo.Volume.Prefix)
	}
	if repo.Volume.BlockHashAlgo != catalog.BlockHashSHA256 {
		t.Errorf("expected default block hash algo sha256, got %q", repo.Volume.BlockHashAlgo)
	}
	if repo.ObjectStore.Type != "local" {
		t.Errorf("expected default object store type local, got %q", repo.ObjectStore.Type)
	}
	if repo.ObjectStore.Adapter.MaxBackoff != 30*time.Second {
		t.Errorf("expected default adapter max backoff 30s, got %v", repo.ObjectStore.Adapter.MaxBackoff)
	}
	if repo.Compact.ReferencedFractionThreshold != 0.2 {
		t.Errorf("expected default compact threshold 0.2, got %v", repo.Compact.ReferencedFractionThreshold)
	}
}

func TestApplyDefaults_DoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{
		Repositories: map[string]RepositoryConfig{
			"home": {
				Volume: VolumeConfig{Prefix: "custom", Blocksize: 8 * 1024 * 1024},
			},
		},
	}
	ApplyDefaults(cfg)

	repo := cfg.Repositories["home"]
	if repo.Volume.Prefix != "custom" {
		t.Errorf("expected explicit prefix to survive, got %q", repo.Volume.Prefix)
	}
	if repo.Volume.Blocksize != 8*1024*1024 {
		t.Errorf("expected explicit blocksize to survive, got %d", repo.Volume.Blocksize)
	}
}
