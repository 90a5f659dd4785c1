package route

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader binds a discovered route file to a handler. name is the external
// namespace path ("/project/create"), file the absolute template path.
type Loader func(name, file string) HandlerFunc

// Discovery resolves routes from files under a routes root. Each page file
// becomes a lazily-loaded entry; a filesystem watcher rebuilds the registry
// when files appear, change, or disappear, so routes can be added without a
// process restart. Development only; production uses the eager Registry.
type Discovery struct {
	mu     sync.RWMutex
	reg    *Registry
	root   string
	loader Loader
	log    *slog.Logger
}

// NewDiscovery scans root and builds the initial registry.
func NewDiscovery(root string, loader Loader, log *slog.Logger) (*Discovery, error) {
	d := &Discovery{root: root, loader: loader, log: log}
	if err := d.Rebuild(); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve looks up the handler in the current registry snapshot.
func (d *Discovery) Resolve(p string) (HandlerFunc, bool) {
	d.mu.RLock()
	reg := d.reg
	d.mu.RUnlock()
	return reg.Resolve(p)
}

// Rebuild rescans the routes root and swaps in a fresh registry.
func (d *Discovery) Rebuild() error {
	reg := New()

	err := filepath.WalkDir(d.root, func(file string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(file, ".html") {
			return nil
		}
		rel, err := filepath.Rel(d.root, file)
		if err != nil {
			return err
		}
		name := "/" + strings.TrimSuffix(filepath.ToSlash(rel), ".html")
		reg.Handle(name, lazy(d.loader, name, file))
		return nil
	})
	if err != nil {
		return fmt.Errorf("route: scan %s: %w", d.root, err)
	}

	d.mu.Lock()
	d.reg = reg
	d.mu.Unlock()
	return nil
}

// lazy defers loader invocation to the first request for the entry.
func lazy(loader Loader, name, file string) HandlerFunc {
	var once sync.Once
	var h HandlerFunc
	return func(w http.ResponseWriter, r *http.Request) error {
		once.Do(func() { h = loader(name, file) })
		return h(w, r)
	}
}

// Watch rebuilds the registry on filesystem changes until ctx is done.
// Newly created directories are added to the watch set.
func (d *Discovery) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("route: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, d.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, event.Name); err != nil {
						d.log.Warn("route watch subdir", slog.String("error", err.Error()))
					}
				}
			}
			if err := d.Rebuild(); err != nil {
				d.log.Error("route registry rebuild failed", slog.String("error", err.Error()))
				continue
			}
			d.log.Debug("route registry rebuilt", slog.String("trigger", event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("route watcher error", slog.String("error", err.Error()))
		}
	}
}

func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(dir string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("route: watch %s: %w", dir, err)
		}
		return nil
	})
}
