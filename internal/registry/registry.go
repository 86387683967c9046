package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ChangeType classifies a package change found by Refresh.
type ChangeType int

const (
	Installed ChangeType = iota
	Updated
	Removed
)

func (t ChangeType) String() string {
	switch t {
	case Installed:
		return "installed"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one package transition observed between two scans.
type Change struct {
	Type ChangeType
	ID   string
}

// Registry is the content registry boundary: enumerate, look up, refresh.
type Registry struct {
	dir     string
	scanner *Scanner
	store   *Store
	logger  *slog.Logger

	mu sync.Mutex
}

// New builds a registry over the package directory dir.
func New(dir string, scanner *Scanner, store *Store, logger *slog.Logger) *Registry {
	return &Registry{dir: dir, scanner: scanner, store: store, logger: logger}
}

// Dir returns the watched package directory.
func (r *Registry) Dir() string {
	return r.dir
}

// List returns every indexed keyboard package.
func (r *Registry) List() ([]*Descriptor, error) {
	return r.store.All()
}

// Lookup returns the package with id or ErrNotFound.
func (r *Registry) Lookup(id string) (*Descriptor, error) {
	return r.store.Get(id)
}

// Ping checks that the index is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Refresh rescans the package directory, updates the index and reports
// what changed. Broken manifests are logged and skipped.
func (r *Registry) Refresh(ctx context.Context) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read packages dir: %w", err)
	}

	known, err := r.store.All()
	if err != nil {
		return nil, err
	}
	previous := make(map[string]string, len(known))
	for _, d := range known {
		previous[d.ID] = d.Revision
	}

	var changes []Change
	seen := make(map[string]bool)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return changes, err
		}
		if !entry.IsDir() {
			continue
		}

		d, err := r.scanner.Scan(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.logger.Warn("skipping package", "dir", entry.Name(), "error", err)
			continue
		}
		if d == nil || seen[d.ID] {
			continue
		}
		seen[d.ID] = true

		rev, ok := previous[d.ID]
		if ok && rev == d.Revision {
			continue
		}
		if err := r.store.Put(d); err != nil {
			return changes, err
		}
		if ok {
			changes = append(changes, Change{Type: Updated, ID: d.ID})
		} else {
			changes = append(changes, Change{Type: Installed, ID: d.ID})
		}
	}

	for id := range previous {
		if seen[id] {
			continue
		}
		if err := r.store.Delete(id); err != nil {
			return changes, err
		}
		changes = append(changes, Change{Type: Removed, ID: id})
	}

	for _, c := range changes {
		r.logger.Debug("package change", "type", c.Type.String(), "id", c.ID)
	}
	return changes, nil
}
