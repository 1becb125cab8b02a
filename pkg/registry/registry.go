// Package registry manages the live, opened form of every repository
// named in a Config: its catalog store and its object-store adapter.
// It provides thread-safe registration and lookup, the same shape as the
// teacher's store/cache registry, adapted to coldvault's single kind of
// named resource — a repository.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/compact"
	"github.com/coldvault/coldvault/pkg/config"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/purge"
)

// Repository bundles one named repository's live handles together with
// the volume-codec parameters its configuration declared.
type Repository struct {
	Store   *catalog.Store
	Adapter *objectstore.Adapter
	Volume  config.VolumeConfig
}

// PurgeParams converts the repository's volume-codec parameters to
// purge.RepositoryParams.
func (r *Repository) PurgeParams() purge.RepositoryParams {
	return purge.RepositoryParams{
		Prefix:        r.Volume.Prefix,
		Passphrase:    r.Volume.Passphrase,
		Blocksize:     int64(r.Volume.Blocksize),
		BlockHashAlgo: r.Volume.BlockHashAlgo,
		FileHashAlgo:  r.Volume.FileHashAlgo,
		AppVersion:    r.Volume.AppVersion,
	}
}

// CompactParams converts the repository's volume-codec parameters to
// compact.RepositoryParams.
func (r *Repository) CompactParams() compact.RepositoryParams {
	return compact.RepositoryParams{
		Prefix:        r.Volume.Prefix,
		Passphrase:    r.Volume.Passphrase,
		Blocksize:     int64(r.Volume.Blocksize),
		BlockHashAlgo: r.Volume.BlockHashAlgo,
		FileHashAlgo:  r.Volume.FileHashAlgo,
		AppVersion:    r.Volume.AppVersion,
	}
}

// Registry holds every repository the CLI has opened this run, keyed by
// the name it was configured under.
type Registry struct {
	mu   sync.RWMutex
	repo map[string]*Repository
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{repo: make(map[string]*Repository)}
}

// Open opens the catalog and object-store backend for the named
// repository and registers it. Returns an error if name is already
// registered, or if either backend fails to open.
func (r *Registry) Open(ctx context.Context, name string, cfg config.RepositoryConfig) (*Repository, error) {
	if name == "" {
		return nil, fmt.Errorf("registry: cannot register repository with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repo[name]; exists {
		return nil, fmt.Errorf("registry: repository %q already registered", name)
	}

	store, err := catalog.Open(&cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("registry: open catalog for %q: %w", name, err)
	}

	backend, err := buildBackend(ctx, cfg.ObjectStore)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("registry: build object store for %q: %w", name, err)
	}

	adapter := objectstore.NewAdapter(backend, objectstore.AdapterConfig{
		QueueSize:  cfg.ObjectStore.Adapter.QueueSize,
		MaxRetries: cfg.ObjectStore.Adapter.MaxRetries,
		MaxBackoff: cfg.ObjectStore.Adapter.MaxBackoff,
	})
	adapter.Start(ctx)

	repository := &Repository{Store: store, Adapter: adapter, Volume: cfg.Volume}
	r.repo[name] = repository
	return repository, nil
}

// Get returns the named repository's live handles. ok is false if it
// hasn't been opened via Open.
func (r *Registry) Get(name string) (*Repository, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repo[name]
	return repo, ok
}

// Names returns every currently registered repository name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.repo))
	for name := range r.repo {
		names = append(names, name)
	}
	return names
}

// Close shuts down the named repository's adapter queue and catalog
// connection, deregistering it. shutdownTimeout bounds how long Close
// waits for the adapter's pending uploads and deletes to drain.
func (r *Registry) Close(name string, shutdownTimeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repo[name]
	if !ok {
		return fmt.Errorf("registry: repository %q not registered", name)
	}
	delete(r.repo, name)

	adapterErr := repo.Adapter.Close(shutdownTimeout)
	storeErr := repo.Store.Close()
	if adapterErr != nil {
		return fmt.Errorf("registry: close %q adapter: %w", name, adapterErr)
	}
	if storeErr != nil {
		return fmt.Errorf("registry: close %q catalog: %w", name, storeErr)
	}
	return nil
}

// CloseAll closes every registered repository, collecting but not
// short-circuiting on individual errors.
func (r *Registry) CloseAll(shutdownTimeout time.Duration) error {
	var firstErr error
	for _, name := range r.Names() {
		if err := r.Close(name, shutdownTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildBackend constructs the objectstore.Backend selected by cfg.Type.
func buildBackend(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Backend, error) {
	switch cfg.Type {
	case "local":
		return objectstore.NewLocalBackend(cfg.Local.Dir)
	case "s3":
		return objectstore.NewS3Backend(ctx, objectstore.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			MaxRetries:      cfg.Adapter.MaxRetries,
			MaxBackoff:      cfg.Adapter.MaxBackoff,
		})
	default:
		return nil, fmt.Errorf("registry: unsupported object store type: %s", cfg.Type)
	}
}
