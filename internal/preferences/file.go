package preferences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/pouch/internal/storage"
)

// FileName is the default preferences file name inside the config directory.
const FileName = "preferences.yaml"

// fileContents is the on-disk layout. Options are written by name; numeric
// ids are accepted on read.
type fileContents struct {
	CreativeSortOption string `yaml:"creative_zone_sort_option,omitempty"`
	BoMSortOption      string `yaml:"bom_zone_sort_option,omitempty"`
}

// FileGateway keeps sort options in a YAML file. Writes are atomic, and
// changes made by this process or (with Watch running) by anyone else are
// pushed to open streams.
type FileGateway struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	values  map[storage.Zone]storage.SortOption
	subs    map[int]chan struct{}
	nextSub int
}

// Option configures a FileGateway.
type Option func(*FileGateway)

// WithLogger sets the gateway's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *FileGateway) { g.logger = l }
}

// NewFileGateway loads path. A missing file is not an error; every zone then
// reads as storage.DefaultSortOption until something is saved.
func NewFileGateway(path string, opts ...Option) (*FileGateway, error) {
	g := &FileGateway{
		path:   path,
		logger: slog.Default(),
		subs:   make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	values, err := g.read()
	if err != nil {
		return nil, err
	}
	g.values = values
	return g, nil
}

// Path returns the backing file.
func (g *FileGateway) Path() string { return g.path }

// SortOption returns the stored option for zone.
func (g *FileGateway) SortOption(zone storage.Zone) storage.SortOption {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookup(zone)
}

func (g *FileGateway) lookup(zone storage.Zone) storage.SortOption {
	if o, ok := g.values[zone]; ok {
		return o
	}
	return storage.DefaultSortOption
}

// SaveSortOption implements Gateway.
func (g *FileGateway) SaveSortOption(ctx context.Context, option storage.SortOption, zone storage.Zone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !option.Valid() {
		return fmt.Errorf("%w: %d", storage.ErrInvalidSortOption, int(option))
	}
	if !zone.Valid() {
		return fmt.Errorf("%w: %d", storage.ErrUnknownZone, int(zone))
	}

	g.mu.Lock()
	next := make(map[storage.Zone]storage.SortOption, len(g.values)+1)
	for z, o := range g.values {
		next[z] = o
	}
	next[zone] = option
	if err := g.write(next); err != nil {
		g.mu.Unlock()
		return err
	}
	g.values = next
	g.mu.Unlock()

	g.logger.Debug("sort option saved", "zone", zone.String(), "option", option.String())
	g.notify()
	return nil
}

// SortOptionStream implements Gateway. Consecutive duplicates are dropped.
func (g *FileGateway) SortOptionStream(ctx context.Context, zone storage.Zone) (<-chan storage.SortOption, error) {
	if !zone.Valid() {
		return nil, fmt.Errorf("%w: %d", storage.ErrUnknownZone, int(zone))
	}

	id, signal := g.register()
	out := make(chan storage.SortOption)

	go func() {
		defer close(out)
		defer g.unregister(id)

		var (
			last storage.SortOption
			sent bool
		)
		for {
			cur := g.SortOption(zone)
			var send chan<- storage.SortOption
			if !sent || cur != last {
				send = out
			}
			select {
			case <-ctx.Done():
				return
			case <-signal:
			case send <- cur:
				last, sent = cur, true
			}
		}
	}()

	return out, nil
}

// Watch reloads the file whenever it changes on disk and notifies open
// streams. It blocks until ctx is done.
func (g *FileGateway) Watch(ctx context.Context) error {
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating preferences directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file, which drops a
	// watch held on the file itself.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(g.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := g.reload(); err != nil {
				g.logger.Warn("reloading preferences", "path", g.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (g *FileGateway) reload() error {
	values, err := g.read()
	if err != nil {
		return err
	}

	g.mu.Lock()
	changed := len(values) != len(g.values)
	for z, o := range values {
		if cur, ok := g.values[z]; !ok || cur != o {
			changed = true
		}
	}
	g.values = values
	g.mu.Unlock()

	if changed {
		g.logger.Debug("preferences reloaded", "path", g.path)
		g.notify()
	}
	return nil
}

func (g *FileGateway) read() (map[storage.Zone]storage.SortOption, error) {
	values := make(map[storage.Zone]storage.SortOption)

	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading preferences: %w", err)
	}

	var fc fileContents
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing preferences %s: %w", g.path, err)
	}

	for zone, name := range map[storage.Zone]string{
		storage.ZoneCreative:       fc.CreativeSortOption,
		storage.ZoneBoxOfMysteries: fc.BoMSortOption,
	} {
		if name == "" {
			continue
		}
		if id, err := strconv.Atoi(name); err == nil {
			values[zone] = storage.SortOptionFromID(id, g.logger.With("zone", zone.String()))
			continue
		}
		o, err := storage.ParseSortOption(name)
		if err != nil {
			g.logger.Error("invalid stored sort option", "zone", zone.String(), "value", name)
			continue
		}
		values[zone] = o
	}
	return values, nil
}

func (g *FileGateway) write(values map[storage.Zone]storage.SortOption) error {
	var fc fileContents
	if o, ok := values[storage.ZoneCreative]; ok {
		fc.CreativeSortOption = o.String()
	}
	if o, ok := values[storage.ZoneBoxOfMysteries]; ok {
		fc.BoMSortOption = o.String()
	}

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}

	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating preferences directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(g.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing preferences: %w", err)
	}
	if err := os.Rename(tmpName, g.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing preferences: %w", err)
	}
	return nil
}

func (g *FileGateway) register() (int, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	ch := make(chan struct{}, 1)
	g.subs[id] = ch
	return id, ch
}

func (g *FileGateway) unregister(id int) {
	g.mu.Lock()
	delete(g.subs, id)
	g.mu.Unlock()
}

func (g *FileGateway) notify() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
