// Package watch provides a recursive, debounced filesystem watcher.
//
// Directories are watched rather than individual files so editors that save
// by writing a temporary file and renaming it over the original still produce
// events. Rapid successive operations on the same path are coalesced into one
// Event after the debounce delay.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by operations on a closed Watcher.
var ErrClosed = errors.New("watcher closed")

// Op is a set of file operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// Has reports whether o contains every operation in other.
func (o Op) Has(other Op) bool {
	return o&other == other
}

// String returns the operations joined with "|".
func (o Op) String() string {
	var parts []string
	for _, n := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}} {
		if o.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is a debounced change to one path.
type Event struct {
	Path string
	Op   Op
}

// Config holds watcher settings.
type Config struct {
	// Debounce is how long a path must be quiet before its event is emitted.
	Debounce time.Duration

	// IgnoreHidden skips files and directories whose name starts with ".".
	IgnoreHidden bool

	// BufferSize is the capacity of the event channel.
	BufferSize int
}

// DefaultConfig returns the default watcher settings.
func DefaultConfig() Config {
	return Config{
		Debounce:     100 * time.Millisecond,
		IgnoreHidden: true,
		BufferSize:   100,
	}
}

// Option modifies a Config.
type Option func(*Config)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) { c.Debounce = d }
}

// WithIgnoreHidden controls whether hidden paths are skipped.
func WithIgnoreHidden(ignore bool) Option {
	return func(c *Config) { c.IgnoreHidden = ignore }
}

// Watcher watches directory trees and emits debounced events.
type Watcher struct {
	fsw    *fsnotify.Watcher
	config Config

	mu      sync.Mutex
	paths   map[string]bool
	pending map[string]*pendingEvent
	closed  bool

	events  chan Event
	errors  chan error
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type pendingEvent struct {
	ops   Op
	timer *time.Timer
}

// New creates a watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		config:  config,
		paths:   make(map[string]bool),
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, config.BufferSize),
		errors:  make(chan error, config.BufferSize),
		closeCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// Add watches a single directory. Watching a directory twice is a no-op.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.paths[abs] {
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.paths[abs] = true
	return nil
}

// AddRecursive watches dir and every directory below it.
func (w *Watcher) AddRecursive(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(abs))
	}

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && w.ignored(p) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// Events returns the debounced event channel.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// WatchedPaths returns the watched directories, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close stops the watcher and closes its channels. Pending events are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for _, pe := range w.pending {
		pe.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	w.wg.Wait()
	err := w.fsw.Close()
	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || w.ignored(ev.Name) {
		return
	}

	if op.Has(OpCreate) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.AddRecursive(ev.Name)
			return
		}
	}

	w.schedule(ev.Name, op)
}

// schedule merges op into the pending event for path and restarts its timer.
func (w *Watcher) schedule(path string, op Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if pe, ok := w.pending[path]; ok {
		pe.ops |= op
		pe.timer.Reset(w.config.Debounce)
		return
	}
	w.pending[path] = &pendingEvent{
		ops:   op,
		timer: time.AfterFunc(w.config.Debounce, func() { w.fire(path) }),
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	pe, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	select {
	case w.events <- Event{Path: path, Op: pe.ops}:
	case <-w.closeCh:
	}
}

func (w *Watcher) ignored(path string) bool {
	if !w.config.IgnoreHidden {
		return false
	}
	base := filepath.Base(path)
	return len(base) > 1 && base[0] == '.'
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
