package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/modhost"
)

const defaultDebounce = 250 * time.Millisecond

// ErrWatcherRunning is returned when Run is called twice.
var ErrWatcherRunning = errors.New("watcher already running")

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Root is the module directory, as passed to NewDir.
	Root string

	// Debounce is the quiet period after the last change before OnChange
	// fires. Editors often write a file several times in a row.
	Debounce time.Duration

	// OnChange receives the ids of modules whose descriptor was created,
	// changed or removed, sorted.
	OnChange func(ctx context.Context, ids []string)

	Logger modhost.Logger
}

// Watcher reports descriptor changes under a module directory.
type Watcher struct {
	cfg     WatcherConfig
	root    string
	fsw     *fsnotify.Watcher
	logger  modhost.Logger
	started atomic.Bool
}

// NewWatcher starts watching cfg.Root and every module directory below it.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Root, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = modhost.NopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{cfg: cfg, root: root, fsw: fsw, logger: logger}

	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			w.addModuleDir(filepath.Join(root, e.Name()))
		}
	}
	return w, nil
}

// Run processes events until ctx ends. It may be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrWatcherRunning
	}
	defer w.fsw.Close()

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
	)
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		ids := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(ids) > 0 && w.cfg.OnChange != nil {
			w.logger.Debug("Module descriptors changed", "modules", ids)
			w.cfg.OnChange(ctx, ids)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			id, relevant := w.moduleOf(evt)
			if !relevant {
				continue
			}
			mu.Lock()
			pending[id] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.cfg.Debounce, fire)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Module watcher error", "error", err)
		}
	}
}

// moduleOf maps an event to the module it concerns. Directory events at the
// root and descriptor events one level down are relevant.
func (w *Watcher) moduleOf(evt fsnotify.Event) (string, bool) {
	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(parts[0], ".") {
		return "", false
	}
	switch len(parts) {
	case 1:
		if evt.Has(fsnotify.Create) {
			if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
				w.addModuleDir(evt.Name)
				return parts[0], true
			}
			return "", false
		}
		// A removed or renamed directory takes its descriptor with it.
		return parts[0], evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename)
	case 2:
		return parts[0], IsDescriptorFile(parts[1])
	default:
		return "", false
	}
}

func (w *Watcher) addModuleDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("Cannot watch module directory", "dir", dir, "error", err)
	}
}
