// Package notes exposes the two zone stores as a single note repository.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/pouch/internal/storage"
)

// InMemory as a data directory opens every zone as a private in-memory
// database.
const InMemory = ":memory:"

// ErrRegistryClosed is returned by Open after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Registry opens each zone's store at most once and hands out the same
// *storage.Store to every caller.
type Registry struct {
	dataDir   string
	logger    *slog.Logger
	storeOpts []storage.Option

	group singleflight.Group

	mu     sync.Mutex
	stores map[storage.Zone]*storage.Store
	closed bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger passed to every store.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithStoreOptions appends options used when opening stores.
func WithStoreOptions(opts ...storage.Option) RegistryOption {
	return func(r *Registry) { r.storeOpts = append(r.storeOpts, opts...) }
}

// NewRegistry returns a registry that keeps zone files under dataDir.
func NewRegistry(dataDir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		dataDir: dataDir,
		logger:  slog.Default(),
		stores:  make(map[storage.Zone]*storage.Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the database file for zone.
func (r *Registry) Path(zone storage.Zone) string {
	if r.dataDir == InMemory {
		return InMemory
	}
	return filepath.Join(r.dataDir, zone.FileName())
}

// Open returns the store for zone, opening and migrating it on first use.
// Concurrent first calls share a single open.
func (r *Registry) Open(ctx context.Context, zone storage.Zone) (*storage.Store, error) {
	if !zone.Valid() {
		return nil, fmt.Errorf("%w: %d", storage.ErrUnknownZone, int(zone))
	}

	if s, err := r.lookup(zone); s != nil || err != nil {
		return s, err
	}

	// Waiters share one open, so it runs detached from any single caller's
	// cancellation. A cancelled caller only stops waiting.
	openCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(zone.String(), func() (any, error) {
		if s, err := r.lookup(zone); s != nil || err != nil {
			return s, err
		}

		path := r.Path(zone)
		opts := append([]storage.Option{storage.WithLogger(r.logger.With("zone", zone.String()))}, r.storeOpts...)
		s, err := storage.Open(openCtx, path, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening %s zone: %w", zone, err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			s.Close()
			return nil, ErrRegistryClosed
		}
		r.stores[zone] = s
		r.logger.Info("zone store opened", "zone", zone.String(), "path", path)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*storage.Store), nil
	}
}

func (r *Registry) lookup(zone storage.Zone) (*storage.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	return r.stores[zone], nil
}

// OpenAll opens every zone in parallel.
func (r *Registry) OpenAll(ctx context.Context) (map[storage.Zone]*storage.Store, error) {
	stores := make([]*storage.Store, len(storage.Zones))

	g, gctx := errgroup.WithContext(ctx)
	for i, zone := range storage.Zones {
		g.Go(func() error {
			s, err := r.Open(gctx, zone)
			if err != nil {
				return err
			}
			stores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[storage.Zone]*storage.Store, len(stores))
	for i, zone := range storage.Zones {
		out[zone] = stores[i]
	}
	return out, nil
}

// Close closes every opened store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for zone, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s zone: %w", zone, err))
		}
	}
	r.stores = nil
	return errors.Join(errs...)
}
