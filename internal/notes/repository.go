package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/pouch/internal/datetime"
	"github.com/kalambet/pouch/internal/preferences"
	"github.com/kalambet/pouch/internal/storage"
)

// Repository acts on whichever zone is active. It starts in ZoneCreative.
//
// Timestamps are written and returned in UTC; conversion for display is left
// to callers.
type Repository struct {
	stores map[storage.Zone]*storage.Store
	prefs  preferences.Gateway
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	zone storage.Zone
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithClock sets the clock used to stamp created and updated notes.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithInitialZone selects the zone that is active before any toggle.
func WithInitialZone(z storage.Zone) Option {
	return func(r *Repository) {
		if z.Valid() {
			r.zone = z
		}
	}
}

// NewRepository builds a repository over the two zone stores.
func NewRepository(creative, boxOfMysteries *storage.Store, prefs preferences.Gateway, opts ...Option) *Repository {
	r := &Repository{
		stores: map[storage.Zone]*storage.Store{
			storage.ZoneCreative:       creative,
			storage.ZoneBoxOfMysteries: boxOfMysteries,
		},
		prefs:  prefs,
		logger: slog.Default(),
		now:    time.Now,
		zone:   storage.ZoneCreative,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open opens both zones through reg and returns a repository over them.
func Open(ctx context.Context, reg *Registry, prefs preferences.Gateway, opts ...Option) (*Repository, error) {
	stores, err := reg.OpenAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not open notes: %w", err)
	}
	return NewRepository(stores[storage.ZoneCreative], stores[storage.ZoneBoxOfMysteries], prefs, opts...), nil
}

func (r *Repository) active() (*storage.Store, storage.Zone) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[r.zone], r.zone
}

func (r *Repository) timestamp() string {
	return r.now().UTC().Format(datetime.Layout)
}

// CurrentZone returns the active zone.
func (r *Repository) CurrentZone() storage.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.zone
}

// ToggleZone makes the other zone active and returns it. Open subscriptions
// keep following the store they were created on.
func (r *Repository) ToggleZone() storage.Zone {
	r.mu.Lock()
	r.zone = r.zone.Other()
	z := r.zone
	r.mu.Unlock()

	r.logger.Info("zone toggled", "zone", z.String())
	return z
}

// Create inserts candidate into the active zone with a fresh UTC timestamp.
// Any id or timestamp on candidate is ignored.
func (r *Repository) Create(ctx context.Context, candidate storage.Note) (int64, error) {
	s, zone := r.active()
	n := storage.Note{
		Title:     candidate.Title,
		Body:      candidate.Body,
		Timestamp: r.timestamp(),
	}
	id, err := s.Insert(ctx, n)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("note created", "zone", zone.String(), "id", id)
	return id, nil
}

// GetByID returns the note with id in the active zone. A missing note is
// reported by ok == false, not by an error.
func (r *Repository) GetByID(ctx context.Context, id int64) (n storage.Note, ok bool, err error) {
	s, _ := r.active()
	n, err = s.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Note{}, false, nil
	}
	if err != nil {
		return storage.Note{}, false, err
	}
	return n, true, nil
}

// ListAll subscribes to every note in the active zone, ordered by sort.
func (r *Repository) ListAll(ctx context.Context, sort storage.SortOption) *storage.Subscription[[]storage.Note] {
	s, _ := r.active()
	return s.Watch(ctx, storage.Query{Sort: sort})
}

// Search subscribes to the notes in the active zone whose title or body
// contains query, ordered by sort.
func (r *Repository) Search(ctx context.Context, query string, sort storage.SortOption) *storage.Subscription[[]storage.Note] {
	s, _ := r.active()
	return s.Watch(ctx, storage.Query{Sort: sort, Search: query})
}

// Fetch runs q once against the active zone.
func (r *Repository) Fetch(ctx context.Context, q storage.Query) ([]storage.Note, error) {
	s, _ := r.active()
	return s.List(ctx, q)
}

// WatchByID subscribes to a single note in the active zone.
func (r *Repository) WatchByID(ctx context.Context, id int64) *storage.Subscription[*storage.Note] {
	s, _ := r.active()
	return s.WatchNote(ctx, id)
}

// Update replaces the note with n.ID and refreshes its timestamp. Updating a
// note that does not exist does nothing.
func (r *Repository) Update(ctx context.Context, n storage.Note) error {
	s, zone := r.active()
	n.Timestamp = r.timestamp()
	ok, err := s.Update(ctx, n)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Debug("update matched no note", "zone", zone.String(), "id", n.ID)
	}
	return nil
}

// Delete removes the note with n.ID. Deleting a note that does not exist
// does nothing.
func (r *Repository) Delete(ctx context.Context, n storage.Note) error {
	s, zone := r.active()
	ok, err := s.Delete(ctx, n.ID)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Debug("delete matched no note", "zone", zone.String(), "id", n.ID)
	}
	return nil
}

// SaveSortOption stores the sort option for zone.
func (r *Repository) SaveSortOption(ctx context.Context, option storage.SortOption, zone storage.Zone) error {
	return r.prefs.SaveSortOption(ctx, option, zone)
}

// SortOptionStream follows the stored sort option for zone.
func (r *Repository) SortOptionStream(ctx context.Context, zone storage.Zone) (<-chan storage.SortOption, error) {
	return r.prefs.SortOptionStream(ctx, zone)
}

// SortOption returns the current sort option for zone by reading the first
// value of its stream.
func (r *Repository) SortOption(ctx context.Context, zone storage.Zone) (storage.SortOption, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.prefs.SortOptionStream(ctx, zone)
	if err != nil {
		return storage.DefaultSortOption, err
	}
	select {
	case o, ok := <-stream:
		if !ok {
			return storage.DefaultSortOption, nil
		}
		return o, nil
	case <-ctx.Done():
		return storage.DefaultSortOption, ctx.Err()
	}
}
