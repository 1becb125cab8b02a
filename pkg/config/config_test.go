package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

repositories:
  home:
    catalog:
      type: sqlite
      sqlite:
        path: "` + yamlSafePath(tmpDir) + `/catalog.db"
    object_store:
      type: local
      local:
        dir: "` + yamlSafePath(tmpDir) + `/volumes"
    volume:
      prefix: cv
      passphrase: "correct horse battery staple"
      blocksize: 4Mi
      block_hash_algo: sha256
      file_hash_algo: sha256
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}

	repo, ok := cfg.Repositories["home"]
	if !ok {
		t.Fatalf("expected repository %q to be loaded", "home")
	}
	if repo.Volume.Blocksize != 4*1024*1024 {
		t.Errorf("expected blocksize 4Mi, got %d", repo.Volume.Blocksize)
	}
	if cfg.DefaultRepository != "home" {
		t.Errorf("expected sole repository to become default, got %q", cfg.DefaultRepository)
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing config, got: %v", err)
	}
	if len(cfg.Repositories) != 0 {
		t.Errorf("expected no repositories in bare-default config, got %d", len(cfg.Repositories))
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Repositories["home"] = RepositoryConfig{
		Volume: VolumeConfig{Prefix: "cv", Passphrase: "secret"},
	}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected config file mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to reload saved config: %v", err)
	}
	if _, ok := loaded.Repositories["home"]; !ok {
		t.Fatalf("expected repository %q to round-trip", "home")
	}
}
