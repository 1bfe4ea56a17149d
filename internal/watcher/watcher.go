// Package watcher turns filesystem activity under the log roots into
// coalesced, rate-limited refresh requests.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dshills/sessionindex/internal/sources"
)

const (
	// DefaultDebounce is how long the tree must stay quiet before a refresh is requested
	DefaultDebounce = 300 * time.Millisecond
	// DefaultMaxWait bounds the debounce when no MinInterval is set
	DefaultMaxWait = 2 * time.Second
)

// Trigger receives refresh requests. It must not block.
type Trigger interface {
	RequestRefresh() bool
}

// TriggerFunc adapts a function to Trigger
type TriggerFunc func() bool

func (f TriggerFunc) RequestRefresh() bool { return f() }

// Root is a directory tree to watch
type Root struct {
	Path     string
	MaxDepth int // Directory levels below Path to watch, matching discovery (0 means unlimited)
}

// Config controls debouncing and rate limiting
type Config struct {
	Roots       []Root
	Debounce    time.Duration // Default: DefaultDebounce
	MinInterval time.Duration // Minimum spacing between refresh requests
	// MaxWait caps how long a steady stream of events can postpone a refresh,
	// counted from the first pending event. Default: MinInterval, or
	// DefaultMaxWait when MinInterval is unset.
	MaxWait time.Duration
}

// Watcher requests a refresh whenever session logs change
type Watcher struct {
	fs      *fsnotify.Watcher
	trigger Trigger
	limiter *rate.Limiter
	config  Config
	log     zerolog.Logger
}

// New creates a watcher over the configured roots. Roots that do not exist
// yet are skipped; they are picked up on the next start.
func New(trigger Trigger, config Config, log zerolog.Logger) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.MaxWait <= 0 {
		config.MaxWait = config.MinInterval
		if config.MaxWait <= 0 {
			config.MaxWait = DefaultMaxWait
		}
	}
	if config.MaxWait < config.Debounce {
		config.MaxWait = config.Debounce
	}
	limit := rate.Inf
	if config.MinInterval > 0 {
		limit = rate.Every(config.MinInterval)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:      fsw,
		trigger: trigger,
		limiter: rate.NewLimiter(limit, 1),
		config:  config,
		log:     log,
	}

	for _, root := range config.Roots {
		if root.Path == "" {
			continue
		}
		if _, err := os.Stat(root.Path); errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("root", root.Path).Msg("log root does not exist, not watching")
			continue
		}
		w.addTree(root, root.Path)
	}
	return w, nil
}

// WatchList returns the directories currently watched
func (w *Watcher) WatchList() []string {
	return w.fs.WatchList()
}

// addTree watches dir and its subdirectories within root's depth limit
func (w *Watcher) addTree(root Root, dir string) {
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if root.MaxDepth > 0 && sources.Depth(root.Path, path) > root.MaxDepth {
			return fs.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.log.Warn().Err(err).Str("dir", path).Msg("watch failed")
		}
		return nil
	})
}

// rootFor returns the root containing path
func (w *Watcher) rootFor(path string) (Root, bool) {
	for _, root := range w.config.Roots {
		rel, err := filepath.Rel(root.Path, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return root, true
		}
	}
	return Root{}, false
}

// Run processes events until ctx is cancelled, then releases the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	// Zero when no event is waiting for a refresh
	var pendingSince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				now := time.Now()
				if pendingSince.IsZero() {
					pendingSince = now
				}
				debounce.Reset(w.delay(now, pendingSince))
			}

		case <-debounce.C:
			if !w.limiter.Allow() {
				r := w.limiter.Reserve()
				delay := r.Delay()
				r.Cancel()
				debounce.Reset(delay)
				continue
			}
			pendingSince = time.Time{}
			if w.trigger.RequestRefresh() {
				w.log.Debug().Msg("refresh requested")
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// delay is the debounce for an event at now, shortened so the refresh fires
// no later than MaxWait after the first pending event
func (w *Watcher) delay(now, pendingSince time.Time) time.Duration {
	d := w.config.Debounce
	if left := w.config.MaxWait - now.Sub(pendingSince); left < d {
		d = max(left, 0)
	}
	return d
}

// handle reports whether event should schedule a refresh. New directories
// inside a root are watched as they appear.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if root, ok := w.rootFor(event.Name); ok {
				w.addTree(root, event.Name)
			}
			// Files may have landed before the watch was added
			return true
		}
	}

	// A removed project directory takes its sessions with it
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Ext(event.Name) == "" {
		return true
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
