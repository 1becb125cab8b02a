package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks that cfg is internally consistent and usable, driven
// by the `validate` struct tags declared alongside each field.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.DefaultRepository != "" {
		if _, ok := cfg.Repositories[cfg.DefaultRepository]; !ok {
			return fmt.Errorf("default_repository %q is not defined under repositories", cfg.DefaultRepository)
		}
	}

	for name, repo := range cfg.Repositories {
		if err := repo.Catalog.Validate(); err != nil {
			return fmt.Errorf("repository %q: catalog: %w", name, err)
		}
		if err := validateObjectStore(name, repo.ObjectStore); err != nil {
			return err
		}
	}

	return nil
}

func validateObjectStore(repoName string, cfg ObjectStoreConfig) error {
	switch cfg.Type {
	case "local":
		if cfg.Local.Dir == "" {
			return fmt.Errorf("repository %q: object_store.local.dir is required", repoName)
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("repository %q: object_store.s3.bucket is required", repoName)
		}
	default:
		return fmt.Errorf("repository %q: unsupported object store type: %s", repoName, cfg.Type)
	}
	return nil
}
