package treesitter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// DynamicLoader loads grammars from the per-grammar shared libraries the
// generator links (.so on Linux, .dylib on macOS) using purego. Loaded
// languages are cached for reuse.
type DynamicLoader struct {
	dir     string
	mu      sync.Mutex
	loaded  map[string]*tree_sitter.Language
	handles []uintptr
}

// NewDynamicLoader creates a loader for shared libraries in dir.
func NewDynamicLoader(dir string) *DynamicLoader {
	return &DynamicLoader{
		dir:    dir,
		loaded: make(map[string]*tree_sitter.Language),
	}
}

// LibPath returns where the shared library for a grammar directory lives.
func (dl *DynamicLoader) LibPath(name string) string {
	return filepath.Join(dl.dir, name+LibExtension())
}

// LoadGrammar dlopens the library for grammar directory name and calls its
// language function symbol. Results are cached per name.
func (dl *DynamicLoader) LoadGrammar(name, symbol string) (*tree_sitter.Language, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if cached, ok := dl.loaded[name]; ok {
		return cached, nil
	}

	soPath := dl.LibPath(name)
	if _, err := os.Stat(soPath); err != nil {
		return nil, fmt.Errorf("grammar %q: shared library not found: %w", name, err)
	}

	handle, err := purego.Dlopen(soPath, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("grammar %q: dlopen %s: %w", name, soPath, err)
	}
	dl.handles = append(dl.handles, handle)

	if _, err := purego.Dlsym(handle, symbol); err != nil {
		return nil, fmt.Errorf("grammar %q: symbol %s: %w", name, symbol, err)
	}
	var langFunc func() uintptr
	purego.RegisterLibFunc(&langFunc, handle, symbol)

	ptr := langFunc()
	if ptr == 0 {
		return nil, fmt.Errorf("grammar %q: %s() returned null", name, symbol)
	}

	// Convert uintptr from C (purego) to unsafe.Pointer without triggering go vet's
	// unsafeptr check. Safe because ptr is a static TSLanguage* from the grammar
	// library, not a Go-managed pointer that could be moved by GC.
	language := tree_sitter.NewLanguage(*(*unsafe.Pointer)(unsafe.Pointer(&ptr)))
	if err := CheckABI(language); err != nil {
		return nil, fmt.Errorf("grammar %q: %w", name, err)
	}
	dl.loaded[name] = language
	return language, nil
}

// CheckABI reports whether the runtime linked into this binary can parse
// with lang.
func CheckABI(lang *tree_sitter.Language) error {
	v := lang.AbiVersion()
	if v < tree_sitter.MIN_COMPATIBLE_LANGUAGE_VERSION || v > tree_sitter.LANGUAGE_VERSION {
		return fmt.Errorf("ABI version %d outside supported range %d..%d",
			v, tree_sitter.MIN_COMPATIBLE_LANGUAGE_VERSION, tree_sitter.LANGUAGE_VERSION)
	}
	return nil
}

// InstalledGrammars returns the grammar names that have a shared library in
// the loader's directory, sorted.
func (dl *DynamicLoader) InstalledGrammars() []string {
	ext := LibExtension()
	entries, err := os.ReadDir(dl.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names
}

// Close forgets all loaded languages. Handles stay mapped; tree-sitter
// languages may still be referenced by live parsers.
func (dl *DynamicLoader) Close() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.handles = nil
	dl.loaded = make(map[string]*tree_sitter.Language)
}

// Dir returns the directory the loader reads from.
func (dl *DynamicLoader) Dir() string {
	return dl.dir
}
