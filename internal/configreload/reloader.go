// Package configreload resolves the host application's plugin/preset
// configuration, reconciles the stores it contributes, and watches the
// files that configuration depends on for hot-reload.
package configreload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fortistate/inspector/internal/core/ports"
)

const (
	// debounceWindow is how long a watched file must stay quiet before a
	// refresh fires, coalescing editor write bursts into one reload.
	debounceWindow = 100 * time.Millisecond

	defaultConfigBasenames = "fortistate.config.js,fortistate.config.mjs,fortistate.config.cjs"
)

// RemoteStores is the narrow RemoteStoreRegistry dependency ConfigReloader
// reconciles plugin-owned keys into.
type RemoteStores interface {
	Set(key string, value any) error
	Delete(key string) error
}

// Reloader is the ConfigReloader.
type Reloader struct {
	root    string
	loader  ports.PluginLoader
	stores  ports.StoreFactory
	remote  RemoteStores
	logger  *slog.Logger
	disable bool

	refreshMu      sync.Mutex
	refreshing     bool
	pendingRefresh bool
	pendingReason  string

	mu          sync.Mutex
	pluginOwned map[string]struct{}
	watcher     *fsnotify.Watcher
	watcherDone chan struct{}
	watchFailed bool
	debounce    *time.Timer
	debounceMu  sync.Mutex
}

// New constructs a Reloader. disable mirrors FORTISTATE_DISABLE_CONFIG_WATCH.
func New(root string, loader ports.PluginLoader, stores ports.StoreFactory, remote RemoteStores, logger *slog.Logger, disable bool) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		root:        root,
		loader:      loader,
		stores:      stores,
		remote:      remote,
		logger:      logger,
		disable:     disable,
		pluginOwned: make(map[string]struct{}),
	}
}

// Start performs the initial resolve-and-reconcile pass and, unless
// disabled, starts the file watcher.
func (r *Reloader) Start(ctx context.Context) error {
	if r.disable {
		r.logger.Info("config watch disabled via FORTISTATE_DISABLE_CONFIG_WATCH")
	}
	// doRefresh starts (or replaces) the watcher itself once the initial
	// resolve completes, unless watching is disabled.
	if err := r.refresh(ctx, "startup"); err != nil {
		return fmt.Errorf("configreload.Reloader.Start: initial refresh: %w", err)
	}
	return nil
}

// Stop tears down the watcher, if any.
func (r *Reloader) Stop() {
	r.mu.Lock()
	w := r.watcher
	done := r.watcherDone
	r.watcher = nil
	r.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	if done != nil {
		<-done
	}
}

// refresh resolves, reconciles, and rewatches, ensuring only one refresh is
// in-flight at a time: a change that arrives mid-refresh queues exactly one
// follow-up run regardless of how many changes landed (latest reason wins).
func (r *Reloader) refresh(ctx context.Context, reason string) error {
	r.refreshMu.Lock()
	if r.refreshing {
		r.pendingRefresh = true
		r.pendingReason = reason
		r.refreshMu.Unlock()
		return nil
	}
	r.refreshing = true
	r.refreshMu.Unlock()

	err := r.doRefresh(ctx)

	r.refreshMu.Lock()
	r.refreshing = false
	rerun := r.pendingRefresh
	rerunReason := r.pendingReason
	r.pendingRefresh = false
	r.pendingReason = ""
	r.refreshMu.Unlock()

	if err != nil {
		return err
	}
	if rerun {
		return r.refresh(ctx, rerunReason)
	}
	return nil
}

func (r *Reloader) doRefresh(ctx context.Context) error {
	result, err := r.loader.LoadPlugins(ctx, r.root)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}

	registered := r.loader.GetRegistered()
	r.applyPluginStores(registered)

	if !r.disable {
		return r.rewatch(result)
	}
	return nil
}

// applyPluginStores reconciles the previously plugin-owned key set against
// the freshly registered one. Only genuine changes touch the store
// primitive, so peers see one store:create per new key and one nil-valued
// store:change per removed key — an untouched key produces no frame at all.
func (r *Reloader) applyPluginStores(registered map[string]ports.Value) {
	r.mu.Lock()
	previouslyOwned := r.pluginOwned
	r.mu.Unlock()

	nowOwned := make(map[string]struct{}, len(registered))
	for key := range registered {
		nowOwned[key] = struct{}{}
	}

	for key := range previouslyOwned {
		if _, ok := nowOwned[key]; ok {
			continue
		}
		if r.stores != nil {
			r.stores.Delete(key)
		}
		if err := r.remote.Delete(key); err != nil {
			r.logger.Warn("configreload: failed to purge removed plugin store", slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	for key, initial := range registered {
		value := initial
		if r.stores != nil {
			if store, ok := r.stores.Get(key); ok {
				value = store.Get()
			} else {
				r.stores.Create(key, initial)
			}
		}
		if err := r.remote.Set(key, value); err != nil {
			r.logger.Warn("configreload: failed to persist plugin store", slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	r.pluginOwned = nowOwned
	r.mu.Unlock()
}

// watchTargets computes the file/directory set to watch.
func (r *Reloader) watchTargets(result ports.PluginLoadResult) []string {
	var targets []string
	if result.ConfigPath != "" {
		targets = append(targets, result.ConfigPath)
	} else {
		for _, name := range strings.Split(defaultConfigBasenames, ",") {
			targets = append(targets, filepath.Join(r.root, name))
		}
	}

	for _, key := range []string{"presets", "plugins"} {
		raw, ok := result.Config[key]
		if !ok {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				targets = append(targets, s)
			}
		}
	}
	return targets
}

// rewatch replaces the active fsnotify watcher with one covering the
// current watch targets. If the watcher library is unavailable, it
// disables watching after the first failure and warns once.
func (r *Reloader) rewatch(result ports.PluginLoadResult) error {
	r.mu.Lock()
	if r.watchFailed {
		r.mu.Unlock()
		return nil
	}
	old := r.watcher
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.mu.Lock()
		r.watchFailed = true
		r.mu.Unlock()
		r.logger.Warn("configreload: file watcher unavailable, disabling hot reload", slog.String("error", err.Error()))
		return nil
	}

	for _, target := range r.watchTargets(result) {
		dir := target
		if info, statErr := os.Stat(target); statErr == nil && !info.IsDir() {
			dir = filepath.Dir(target)
		}
		if err := w.Add(dir); err != nil {
			r.logger.Debug("configreload: failed to watch path", slog.String("path", dir), slog.String("error", err.Error()))
		}
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.watcher = w
	r.watcherDone = done
	r.mu.Unlock()

	go r.watchLoop(w, done)
	return nil
}

func (r *Reloader) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.scheduleDebounced(event.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Debug("configreload: watcher error", slog.String("error", err.Error()))
		}
	}
}

// scheduleDebounced resets the awaitWriteFinish timer on every event,
// firing one refresh debounceWindow after the last observed change.
func (r *Reloader) scheduleDebounced(path string) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(debounceWindow, func() {
		if err := r.refresh(context.Background(), "watch:"+path); err != nil {
			r.logger.Warn("configreload: refresh failed", slog.String("error", err.Error()))
		}
	})
}
