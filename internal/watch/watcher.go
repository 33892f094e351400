// Package watch reports which agents' worktrees or state records changed
// on disk, so their diagnosis can be refreshed.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/agentree/internal/logging"
)

// DefaultDebounce coalesces the bursts of events editors and git produce
// for a single logical change.
const DefaultDebounce = 250 * time.Millisecond

// recordExt is the extension of state records in a watched record dir.
const recordExt = ".yaml"

// Watcher watches task worktrees and the state directory, and calls
// onChange with the sorted IDs of the tasks that changed.
type Watcher struct {
	fs *fsnotify.Watcher

	// roots maps a watched root directory to its task ID
	roots map[string]string
	// recordDir holds <taskID>.yaml state records
	recordDir string

	ignore   []string
	debounce time.Duration
	onChange func(taskIDs []string)
	logger   *logging.Logger

	mu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithIgnore replaces the directory names skipped while walking worktrees.
func WithIgnore(names ...string) Option {
	return func(w *Watcher) { w.ignore = names }
}

// New creates a watcher that reports changes to onChange.
func New(onChange func(taskIDs []string), opts ...Option) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fs,
		roots:    make(map[string]string),
		ignore:   []string{".git", ".agentree", "node_modules", ".DS_Store"},
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watch")
	return w, nil
}

// Add watches dirs on behalf of taskID. Directories under each dir are
// watched too, except ignored ones. A dir that does not exist is skipped.
func (w *Watcher) Add(taskID string, dirs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		dir = filepath.Clean(dir)
		if err := w.fs.Add(dir); err != nil {
			return err
		}
		w.roots[dir] = taskID
		w.watchDirRecursive(dir)
	}
	return nil
}

// watchDirRecursive adds every non-ignored subdirectory of root.
func (w *Watcher) watchDirRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		if slices.Contains(w.ignore, d.Name()) {
			return filepath.SkipDir
		}
		_ = w.fs.Add(path)
		return nil
	})
}

// Remove stops reporting changes for taskID.
func (w *Watcher) Remove(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for root, id := range w.roots {
		if id != taskID {
			continue
		}
		delete(w.roots, root)
		for _, path := range w.fs.WatchList() {
			if within(path, root) {
				_ = w.fs.Remove(path)
			}
		}
	}
}

// WatchRecords watches a state directory. A change to <dir>/<id>.yaml
// is reported as a change to task id.
func (w *Watcher) WatchRecords(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	dir = filepath.Clean(dir)
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	w.recordDir = dir
	return nil
}

// Tasks returns the sorted IDs of the watched tasks.
func (w *Watcher) Tasks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ids []string
	for _, id := range w.roots {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Run processes events until ctx is done or the watcher is closed.
// Events are collected until none arrive for the debounce period, then
// onChange is called once with every task they touched.
func (w *Watcher) Run(ctx context.Context) error {
	debounceTimer := time.NewTimer(w.debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				w.watchCreated(ev.Name)
			}
			if id := w.taskFor(ev.Name); id != "" {
				pending[id] = true
				debounceTimer.Reset(w.debounce)
			}

		case <-debounceTimer.C:
			if len(pending) == 0 {
				continue
			}
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			pending = make(map[string]bool)

			w.logger.Debug("changes settled", "tasks", strings.Join(ids, ","))
			if w.onChange != nil {
				w.onChange(ids)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err.Error())
		}
	}
}

// Close stops watching and ends Run.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// watchCreated starts watching a new directory inside a watched worktree.
func (w *Watcher) watchCreated(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || slices.Contains(w.ignore, filepath.Base(path)) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rootFor(path) == "" {
		return
	}
	_ = w.fs.Add(path)
	w.watchDirRecursive(path)
}

// taskFor maps an event path to a task ID, or "" when the path is ignored
// or outside every watched root.
func (w *Watcher) taskFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	path = filepath.Clean(path)
	if w.recordDir != "" && filepath.Dir(path) == w.recordDir {
		name := filepath.Base(path)
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			return ""
		}
		return strings.TrimSuffix(name, recordExt)
	}

	root := w.rootFor(path)
	if root == "" {
		return ""
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if slices.Contains(w.ignore, part) {
			return ""
		}
	}
	return w.roots[root]
}

// rootFor returns the longest watched root containing path.
func (w *Watcher) rootFor(path string) string {
	best := ""
	for root := range w.roots {
		if within(path, root) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
