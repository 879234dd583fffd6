// Package fsnotify implements the ports.Watcher interface using github.com/fsnotify/fsnotify.
// It recursively watches a project directory, reports only files that feed
// binding generation (grammar sources, queries, node types, .gitmodules),
// and debounces rapid events (editors often trigger multiple writes per save).
// Individual files outside the recursive watch, such as git branch refs under
// .git, can be added with WatchFiles.
package fsnotify

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corey/grammargen/internal/ports"
	"github.com/fsnotify/fsnotify"
)

// Directories to ignore when watching.
var ignoreDirs = map[string]bool{
	".git":         true,
	".grammargen":  true,
	"node_modules": true,
	"bindings":     true,
	"build":        true,
	"target":       true,
	"examples":     true,
	"test":         true,
	".idea":        true,
	".vscode":      true,
}

// Extensions of files that affect generated output.
var inputExts = map[string]bool{
	".c":    true,
	".cc":   true,
	".h":    true,
	".hpp":  true,
	".js":   true,
	".json": true,
	".scm":  true,
}

// Exact file names that affect generated output regardless of extension.
var inputNames = map[string]bool{
	".gitmodules": true,
	"go.mod":      true,
}

const debounceInterval = 50 * time.Millisecond

// Watcher implements ports.Watcher using fsnotify.
type Watcher struct {
	fw      *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
	stopped bool
	mu      sync.Mutex

	files map[string]bool // exact paths reported regardless of isInput
	dirs  map[string]bool // parents of files already added to fw
}

var _ ports.Watcher = (*Watcher)(nil)

// NewWatcher creates a new file system watcher.
func NewWatcher(log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fw:    fw,
		log:   log,
		done:  make(chan struct{}),
		files: make(map[string]bool),
		dirs:  make(map[string]bool),
	}, nil
}

// Watch starts monitoring root recursively.
// onChange is called with the absolute path of each changed input file.
func (w *Watcher) Watch(root string, onChange func(filePath string)) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	err = filepath.Walk(absPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if info.IsDir() {
			if shouldIgnoreDir(info.Name()) && path != absPath {
				return filepath.SkipDir
			}
			return w.fw.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	debounce := make(map[string]time.Time)

	go func() {
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				path := event.Name

				// git replaces a ref by renaming a lock file over it, which
				// shows up as a Create of the ref path.
				if w.isWatchedFile(path) {
					if changed(event) && !debounced(debounce, path) {
						onChange(path)
					}
					continue
				}

				rel, err := filepath.Rel(absPath, path)
				if err != nil {
					continue
				}

				// A new grammar checkout shows up as a directory create.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(path); err == nil && info.IsDir() {
						if !ignored(rel) {
							w.fw.Add(path)
							onChange(path)
						}
						continue
					}
				}

				if !isInput(rel) {
					continue
				}

				if debounced(debounce, path) {
					continue
				}

				if changed(event) {
					onChange(path)
				}

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.log.Debug("watch error", "err", err)

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// WatchFiles adds exact file paths to report on top of the recursive watch.
// Each file's parent directory is watched, so a file that does not exist yet
// is reported once it is created. Parents that do not exist are skipped;
// calling WatchFiles again after they appear picks them up.
func (w *Watcher) WatchFiles(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if w.dirs[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.fw.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = true
	}
	return nil
}

func (w *Watcher) isWatchedFile(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path]
}

func changed(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// debounced reports whether path fired within debounceInterval, recording
// the event otherwise. Only the event goroutine touches seen.
func debounced(seen map[string]time.Time, path string) bool {
	now := time.Now()
	if last, ok := seen[path]; ok && now.Sub(last) < debounceInterval {
		return true
	}
	seen[path] = now
	return false
}

// Stop ends monitoring and releases all resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	return w.fw.Close()
}

func shouldIgnoreDir(name string) bool {
	return ignoreDirs[name]
}

// ignored reports whether any element of path, relative to the watched
// root, is an ignored directory.
func ignored(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if ignoreDirs[part] {
			return true
		}
	}
	return false
}

// isInput reports whether a change to path, relative to the watched root,
// can alter generated output.
func isInput(path string) bool {
	if ignored(path) {
		return false
	}
	base := filepath.Base(path)
	return inputNames[base] || inputExts[filepath.Ext(base)]
}
