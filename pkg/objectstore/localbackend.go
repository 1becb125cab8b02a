package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coldvault/coldvault/internal/telemetry"
)

// LocalBackend stores objects as files under a root directory. It exists
// for local-disk repositories and for tests that would otherwise require
// network access to exercise the Adapter.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a LocalBackend rooted at dir, creating it if
// necessary.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create local backend root: %w", err)
	}
	return &LocalBackend{root: dir}, nil
}

func (b *LocalBackend) path(name string) string {
	return filepath.Join(b.root, filepath.FromSlash(name))
}

// Put writes r to disk under name.
func (b *LocalBackend) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	telemetry.SetAttributes(ctx, telemetry.StoreType("local"))
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := b.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("objectstore: create parent dir for %s: %w", name, err)
	}
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("objectstore: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("objectstore: close %s: %w", name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("objectstore: finalize %s: %w", name, err)
	}
	return nil
}

// Get opens the named object for reading.
func (b *LocalBackend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	telemetry.SetAttributes(ctx, telemetry.StoreType("local"))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: open %s: %w", name, err)
	}
	return f, nil
}

// Delete removes the named object. Idempotent.
func (b *LocalBackend) Delete(ctx context.Context, name string) error {
	telemetry.SetAttributes(ctx, telemetry.StoreType("local"))
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(b.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: delete %s: %w", name, err)
	}
	return nil
}

// List returns every object whose name has the given prefix.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := filepath.Walk(b.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		entries = append(entries, Entry{Name: name, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Healthcheck verifies the root directory is writable.
func (b *LocalBackend) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe := filepath.Join(b.root, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("objectstore: healthcheck: %w", err)
	}
	return os.Remove(probe)
}
