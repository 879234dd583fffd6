package ports

// Watcher monitors a grammars root for changes to generator inputs and
// triggers a new generation pass. The adapter (fsnotify) must filter out
// files the generator never reads (.git, bindings, editor swap files) before
// invoking onChange. Only one Watch call should be active at a time.
type Watcher interface {
	// Watch starts monitoring root recursively. onChange is called with
	// the absolute path of each changed file. The callback may be invoked from
	// any goroutine. Returns an error if the directory doesn't exist or
	// permissions are insufficient.
	Watch(root string, onChange func(filePath string)) error

	// WatchFiles adds exact file paths that are reported through the
	// onChange of the active Watch even when they sit in a filtered
	// directory (git refs under .git). Files or parent directories that do
	// not exist yet are not an error. Calls accumulate.
	WatchFiles(paths []string) error

	// Stop ends monitoring and releases all resources. After Stop returns,
	// no further onChange calls will fire. Safe to call multiple times.
	Stop() error
}
