// Package reactor keeps targets in sync with their templates while running.
// It holds one watch per registered template and turns file modifications
// and deletions into propagation runs.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"htmlporter/internal/logging"
	"htmlporter/internal/propagate"
	"htmlporter/internal/registry"
	"htmlporter/internal/workspace"
)

// Propagator is the part of the propagation engine the reactor drives.
type Propagator interface {
	PropagateUpdate(ctx context.Context, tmpl registry.Template) (propagate.Result, error)
	PropagateRemoval(ctx context.Context, tmpl registry.Template) (propagate.Result, error)
}

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("reactor stopped")

// Stats tracks reactor activity.
type Stats struct {
	Armed         int
	Released      int
	Modified      int
	Deleted       int
	Unchanged     int // modifications whose content matched the last run
	Resyncs       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// watch is the handle of one armed template.
type watch struct {
	id     string
	path   string
	dir    string
	digest [32]byte
	seen   bool
}

// Reactor reacts to template file changes. Operations (arming, handling a
// settled event, resyncing with the registry) run one at a time.
type Reactor struct {
	root     workspace.Root
	store    *registry.Store
	engine   Propagator
	watcher  *fsnotify.Watcher
	debounce time.Duration

	opMu sync.Mutex // serializes operations

	mu      sync.Mutex
	watches map[string]*watch // template id -> handle
	byPath  map[string]string // absolute template path -> id
	dirRefs map[string]int
	pending map[string]time.Time
	stats   Stats
	running bool
	stopped bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a Reactor for the templates in store. debounce is the quiet
// period applied to bursts of events on the same file.
func New(store *registry.Store, engine Propagator, debounce time.Duration) (*Reactor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		root:     store.Root(),
		store:    store,
		engine:   engine,
		watcher:  w,
		debounce: debounce,
		watches:  make(map[string]*watch),
		byPath:   make(map[string]string),
		dirRefs:  make(map[string]int),
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start arms every registered template and begins handling events in a
// goroutine. The registry file itself is watched so templates registered by
// other processes are picked up.
func (r *Reactor) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	regDir := filepath.Dir(r.store.Path())
	if err := os.MkdirAll(regDir, 0755); err != nil {
		logging.Get(logging.CategoryWatcher).Warnf("failed to create registry dir %s: %v (continuing anyway)", regDir, err)
	}
	if err := r.addDir(regDir); err != nil {
		logging.Get(logging.CategoryWatcher).Warnf("cannot watch registry dir %s: %v", regDir, err)
	}

	if err := r.Resync(ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}

	go r.run(ctx)
	logging.Watcher("reactor started with %d templates", len(r.Watched()))
	return nil
}

// Stop releases every watch and waits for the event loop to exit. The
// registry is not modified.
func (r *Reactor) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	r.stopped = true
	r.mu.Unlock()

	if wasRunning {
		close(r.stopCh)
		<-r.doneCh
	}

	r.opMu.Lock()
	for _, id := range r.Watched() {
		r.release(id)
	}
	r.opMu.Unlock()

	r.closeOnce.Do(func() {
		if err := r.watcher.Close(); err != nil {
			logging.Get(logging.CategoryWatcher).Errorf("error closing watcher: %v", err)
		}
	})
	logging.Watcher("reactor stopped")
}

// Arm starts watching template id. When the template file no longer exists
// it is treated as deleted instead: its blocks are stripped from every
// target, its record is dropped and no watch is created.
func (r *Reactor) Arm(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.arm(ctx, id)
}

// Resync arms templates present in the registry and releases watches whose
// template is no longer registered. Only a registry load failure is
// returned; a template that fails to arm is logged and counted in Stats
// while the others are still armed.
func (r *Reactor) Resync(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	templates, err := r.store.List()
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}

	registered := make(map[string]bool, len(templates))
	for _, tmpl := range templates {
		registered[tmpl.Path] = true
		if err := r.arm(ctx, tmpl.Path); err != nil {
			r.fail(tmpl.Path, err)
		}
	}
	for _, id := range r.Watched() {
		if !registered[id] {
			r.release(id)
		}
	}

	r.mu.Lock()
	r.stats.Resyncs++
	r.mu.Unlock()
	return nil
}

// Watched returns the armed template identifiers in sorted order.
func (r *Reactor) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.watches))
	for id := range r.watches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stats returns the current reactor statistics.
func (r *Reactor) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reactor) arm(ctx context.Context, id string) error {
	if !r.root.Exists(id) {
		logging.Watcher("template %s is missing, treating it as deleted", id)
		return r.handleDeleted(ctx, id)
	}

	r.mu.Lock()
	_, armed := r.watches[id]
	r.mu.Unlock()
	if armed {
		return nil
	}

	path := r.root.Abs(id)
	dir := filepath.Dir(path)
	if err := r.addDir(dir); err != nil {
		return fmt.Errorf("watching %s: %w", id, err)
	}

	r.mu.Lock()
	r.watches[id] = &watch{id: id, path: path, dir: dir}
	r.byPath[path] = id
	r.stats.Armed++
	r.mu.Unlock()

	logging.WatcherDebug("armed %s", id)
	return nil
}

// release drops the watch of id, if any.
func (r *Reactor) release(id string) {
	r.mu.Lock()
	w, ok := r.watches[id]
	if ok {
		delete(r.watches, id)
		delete(r.byPath, w.path)
		delete(r.pending, w.path)
		r.stats.Released++
	}
	r.mu.Unlock()

	if ok {
		r.removeDir(w.dir)
		logging.WatcherDebug("released %s", id)
	}
}

// addDir watches dir, sharing one subscription between all templates in it.
// Editors commonly save by renaming over the file, which would drop a watch
// placed on the file itself.
func (r *Reactor) addDir(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirRefs[dir] == 0 {
		if err := r.watcher.Add(dir); err != nil {
			return err
		}
	}
	r.dirRefs[dir]++
	return nil
}

func (r *Reactor) removeDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirRefs[dir]--
	if r.dirRefs[dir] > 0 {
		return
	}
	delete(r.dirRefs, dir)
	if err := r.watcher.Remove(dir); err != nil {
		logging.WatcherDebug("unwatch %s: %v", dir, err)
	}
}

// run is the main event loop.
func (r *Reactor) run(ctx context.Context) {
	defer close(r.doneCh)

	tick := r.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watcher("context cancelled")
			return

		case <-r.stopCh:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.record(event)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Errorf("watcher error: %v", err)
			r.mu.Lock()
			r.stats.Errors++
			r.mu.Unlock()

		case <-ticker.C:
			r.processSettled(ctx)
		}
	}
}

// record notes an event for a watched path; it is handled once the path has
// been quiet for the debounce period.
func (r *Reactor) record(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	path := filepath.Clean(event.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPath[path]; !ok && path != r.store.Path() {
		return
	}
	r.pending[path] = time.Now()
	r.stats.LastEventTime = time.Now()
	r.stats.LastEventPath = path
	r.stats.LastEventType = event.Op.String()
}

// processSettled handles every path whose last event is older than the
// debounce window.
func (r *Reactor) processSettled(ctx context.Context) {
	r.mu.Lock()
	now := time.Now()
	var due []string
	for path, at := range r.pending {
		if now.Sub(at) >= r.debounce {
			due = append(due, path)
			delete(r.pending, path)
		}
	}
	r.mu.Unlock()
	slices.Sort(due)

	for _, path := range due {
		if path == r.store.Path() {
			if err := r.Resync(ctx); err != nil {
				r.fail("resync", err)
			}
			continue
		}
		r.handlePath(ctx, path)
	}
}

// handlePath dispatches a settled event: a template that still exists was
// modified, one that is gone was deleted.
func (r *Reactor) handlePath(ctx context.Context, path string) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	id, ok := r.byPath[path]
	r.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if r.root.Exists(id) {
		err = r.handleModified(ctx, id)
	} else {
		err = r.handleDeleted(ctx, id)
	}
	if err != nil {
		r.fail(id, err)
	}
}

// handleModified propagates the current content of id. Every settled
// modification propagates, even when the content matches the last run, so
// hand-edited blocks are repaired and vanished targets pruned.
func (r *Reactor) handleModified(ctx context.Context, id string) error {
	tmpl, err := r.store.Get(id)
	if errors.Is(err, registry.ErrTemplateNotFound) {
		r.release(id)
		return nil
	}
	if err != nil {
		return err
	}

	content, err := r.root.ReadFile(id)
	if err != nil {
		return err
	}
	digest := blake3.Sum256(content)

	r.mu.Lock()
	w := r.watches[id]
	if w != nil && w.seen && w.digest == digest {
		r.stats.Unchanged++
		logging.WatcherDebug("content of %s unchanged, re-applying", id)
	}
	r.mu.Unlock()

	res, err := r.engine.PropagateUpdate(ctx, tmpl)

	r.mu.Lock()
	r.stats.Modified++
	if w != nil && !errors.Is(err, propagate.ErrTemplateMissing) {
		w.digest = digest
		w.seen = true
	}
	r.mu.Unlock()

	logging.Watcher("propagated %s: %d updated, %d pruned", id, res.Updated, res.Pruned)
	return err
}

// handleDeleted strips the blocks of id from its targets, drops the record
// and releases the watch.
func (r *Reactor) handleDeleted(ctx context.Context, id string) error {
	defer r.release(id)

	tmpl, err := r.store.Get(id)
	if errors.Is(err, registry.ErrTemplateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	res, perr := r.engine.PropagateRemoval(ctx, tmpl)
	if _, err := r.store.RemoveTemplate(id); err != nil {
		return errors.Join(perr, err)
	}

	r.mu.Lock()
	r.stats.Deleted++
	r.mu.Unlock()

	logging.Watcher("template %s deleted, stripped %d targets", id, res.Updated)
	return perr
}

func (r *Reactor) fail(what string, err error) {
	logging.Get(logging.CategoryWatcher).Errorf("handling %s: %v", what, err)
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}
