package app

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corey/grammargen/internal/adapters/cc"
	"github.com/corey/grammargen/internal/adapters/treesitter"
	"github.com/corey/grammargen/internal/config"
	"github.com/corey/grammargen/internal/domain/compile"
	"github.com/corey/grammargen/internal/domain/registry"
	"github.com/corey/grammargen/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fixtures
// =============================================================================

// fakeCompiler writes placeholder artifacts and counts compiled units.
type fakeCompiler struct {
	mu     sync.Mutex
	units  int
	failOn string // base name of a source that fails to compile
}

func (f *fakeCompiler) SupportedFlags(_ context.Context, _ ports.SourceLang, flags []string) ([]string, error) {
	return flags, nil
}

func (f *fakeCompiler) Driver(lang ports.SourceLang) []string {
	if lang == ports.LangCXX {
		return []string{"c++"}
	}
	return []string{"cc"}
}

func (f *fakeCompiler) CompileObject(_ context.Context, unit ports.CompileUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(unit.Source, f.failOn) {
		return errors.New("error: expected expression")
	}
	f.units++
	return os.WriteFile(unit.Object, []byte(unit.Source), 0o644)
}

func (f *fakeCompiler) Archive(_ context.Context, path string, objects []string) error {
	return os.WriteFile(path, []byte("!<arch>\n"+strings.Join(objects, "\n")), 0o644)
}

func (f *fakeCompiler) LinkShared(_ context.Context, path string, objects []string, _ bool) error {
	return os.WriteFile(path, []byte(strings.Join(objects, "\n")), 0o644)
}

const tinySHA = "46aa487b3ade14b7b05ef92507fdaa3915a662a3"

// project lays out a repository with grammars and a .gitmodules file.
type project struct {
	t    *testing.T
	root string
}

func newProject(t *testing.T) *project {
	t.Helper()
	p := &project{t: t, root: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(p.root, "grammars"), 0o755))
	return p
}

func (p *project) write(rel, body string) {
	p.t.Helper()
	path := filepath.Join(p.root, filepath.FromSlash(rel))
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, []byte(body), 0o644))
}

// grammar adds a grammar package with a parser, grammar.js and node-types.
func (p *project) grammar(dir string, extra ...string) {
	p.t.Helper()
	p.write("grammars/"+dir+"/src/parser.c", "/* "+dir+" parser */\n")
	p.write("grammars/"+dir+"/grammar.js", "module.exports = grammar({name: '"+dir+"'});\n")
	p.write("grammars/"+dir+"/src/node-types.json", "[]\n")
	for _, rel := range extra {
		p.write("grammars/"+dir+"/"+rel, "; "+rel+"\n")
	}
}

func (p *project) gitmodules(dirs ...string) {
	p.t.Helper()
	var b strings.Builder
	for _, d := range dirs {
		b.WriteString("[submodule \"grammars/" + d + "\"]\n")
		b.WriteString("\tpath = grammars/" + d + "\n")
		b.WriteString("\turl = https://example.com/tree-sitter-" + d + "\n")
	}
	p.write(".gitmodules", b.String())
}

func (p *project) read(rel string) string {
	p.t.Helper()
	data, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(rel)))
	require.NoError(p.t, err)
	return string(data)
}

func (p *project) generator(c ports.Compiler, mut ...func(*config.Config)) *Generator {
	p.t.Helper()
	cfg := config.Default(p.root)
	for _, m := range mut {
		m(cfg)
	}
	g, err := NewGenerator(cfg, c, nil, nil)
	require.NoError(p.t, err)
	return g
}

// =============================================================================
// Passes
// =============================================================================

func TestGenerator_TinyLang(t *testing.T) {
	p := newProject(t)
	p.grammar("tiny-lang", "queries/highlights.scm")
	p.gitmodules("tiny-lang")
	p.write(".git/modules/grammars/tiny-lang/refs/heads/main", tinySHA+"\n")

	res, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.True(t, res.Changed)

	main := p.read("grammars/grammars_gen.go")
	assert.Contains(t, main, "func TinyLangLanguage() *tree_sitter.Language")
	assert.Contains(t, main, "// REPO: https://example.com/tree-sitter-tiny-lang\n// REF: "+tinySHA+"\n")
	assert.Contains(t, main, "var TinyLangHighlightsQuery string")
	assert.NotContains(t, main, "TinyLangInjectionsQuery")
	assert.NotContains(t, main, "TinyLangLocalsQuery")
	assert.Contains(t, main, "-L${SRCDIR}/../.grammargen/lib")

	hl := p.read("grammars/grammars_highlight_gen.go")
	assert.Contains(t, hl, `highlight.NewConfiguration(TinyLangLanguage(), TinyLangHighlightsQuery, "", "")`)

	for _, lib := range []string{"libparser_c.a", "libscanner_c.a", "libscanner_cpp.a"} {
		assert.FileExists(t, filepath.Join(p.root, ".grammargen", "lib", lib))
	}
}

func TestGenerator_OneModulePerDirectory(t *testing.T) {
	p := newProject(t)
	p.grammar("json")
	p.grammar("toml", "src/scanner.c")
	p.grammar("cpp", "src/scanner.cc")
	p.gitmodules("json", "toml", "cpp")

	res, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Packages, 3)

	main := p.read("grammars/grammars_gen.go")
	assert.Equal(t, 3, strings.Count(main, "Language: "))
	assert.Contains(t, main, "-lstdc++")

	jobs := map[compile.Kind]int{}
	for _, jr := range res.Compile.Jobs {
		jobs[jr.Kind] = jr.Files
	}
	assert.Equal(t, map[compile.Kind]int{
		compile.KindParser:     3,
		compile.KindScannerC:   1,
		compile.KindScannerCXX: 1,
	}, jobs)
}

func TestGenerator_SeparateModuleGrammarIsInlined(t *testing.T) {
	p := newProject(t)
	p.grammar("json", "queries/highlights.scm")
	p.write("grammars/json/go.mod", "module github.com/tree-sitter/tree-sitter-json\n")
	p.grammar("toml")
	p.gitmodules("json", "toml")

	res, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Packages, 2)
	assert.True(t, res.Packages[0].HasGoMod)

	main := p.read("grammars/grammars_gen.go")
	assert.NotContains(t, main, "//go:embed json/")
	assert.Contains(t, main, `var JsonGrammar = "module.exports = grammar({name: 'json'});\n"`)
	assert.Contains(t, main, `var JsonHighlightsQuery = "; queries/highlights.scm\n"`)
	assert.Contains(t, main, "//go:embed toml/grammar.js", "other grammars still embed")

	dep := p.read("grammars/grammars_gen.go.d")
	assert.Contains(t, dep, "grammars/json/go.mod")
}

func TestGenerator_NoRefsDegrades(t *testing.T) {
	p := newProject(t)
	p.grammar("json")
	p.gitmodules("json")

	_, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, p.read("grammars/grammars_gen.go"), "// ERRO: Unable to get repo ref\nfunc JsonLanguage()")
}

func TestGenerator_Idempotent(t *testing.T) {
	p := newProject(t)
	p.grammar("json", "queries/highlights.scm", "queries/locals.scm")
	p.grammar("toml", "src/scanner.c")
	p.gitmodules("json", "toml")
	g := p.generator(&fakeCompiler{})

	_, err := g.Run(context.Background())
	require.NoError(t, err)
	first := p.read("grammars/grammars_gen.go")
	firstHL := p.read("grammars/grammars_highlight_gen.go")
	firstDep := p.read("grammars/grammars_gen.go.d")

	res, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, first, p.read("grammars/grammars_gen.go"))
	assert.Equal(t, firstHL, p.read("grammars/grammars_highlight_gen.go"))
	assert.Equal(t, firstDep, p.read("grammars/grammars_gen.go.d"))
}

func TestGenerator_MissingRegistryIsFatal(t *testing.T) {
	p := newProject(t)
	p.grammar("json")

	_, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrNoRegistry))
	assert.NoFileExists(t, filepath.Join(p.root, "grammars", "grammars_gen.go"))
}

func TestGenerator_CompileFailureKeepsPreviousOutput(t *testing.T) {
	p := newProject(t)
	p.grammar("json")
	p.gitmodules("json")
	_, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.NoError(t, err)
	before := p.read("grammars/grammars_gen.go")

	p.grammar("broken")
	_, err = p.generator(&fakeCompiler{failOn: "broken"}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, compile.ErrCompile))
	assert.Equal(t, before, p.read("grammars/grammars_gen.go"))
	assert.NoFileExists(t, filepath.Join(p.root, "grammars", "grammars_gen.go.tmp"))
}

func TestGenerator_IdentifierCollisionIsFatal(t *testing.T) {
	p := newProject(t)
	p.grammar("foo-bar")
	p.grammar("foo_bar")
	p.gitmodules()

	_, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both map to")
}

func TestGenerator_Depfile(t *testing.T) {
	p := newProject(t)
	p.grammar("json", "src/scanner.c", "queries/highlights.scm")
	p.gitmodules("json")
	p.write(".git/modules/grammars/json/refs/heads/master", tinySHA+"\n")

	_, err := p.generator(&fakeCompiler{}).Run(context.Background())
	require.NoError(t, err)

	dep := p.read("grammars/grammars_gen.go.d")
	assert.True(t, strings.HasPrefix(dep, "grammars/grammars_gen.go: \\\n"), dep)
	for _, want := range []string{
		"grammars/json/src/parser.c",
		"grammars/json/src/scanner.c",
		".gitmodules",
		"grammars/json/grammar.js",
		"grammars/json/queries/highlights.scm",
		".git/modules/grammars/json/refs/heads/master",
	} {
		assert.Contains(t, dep, "  "+want, want)
	}
	assert.NotContains(t, dep, "refs/heads/main")
}

func TestGenerator_Manifest(t *testing.T) {
	p := newProject(t)
	p.grammar("json", "queries/highlights.scm")
	p.grammar("cpp", "src/scanner.cc")
	p.gitmodules("json", "cpp")
	p.write(".git/modules/grammars/json/refs/heads/master", tinySHA+"\n")

	_, err := p.generator(&fakeCompiler{}, func(c *config.Config) { c.Shared = true }).Run(context.Background())
	require.NoError(t, err)

	m, err := treesitter.LoadManifest(filepath.Join(p.root, ".grammargen", "grammars.json"))
	require.NoError(t, err)
	assert.Equal(t, "grammars/grammars_gen.go", m.Output)
	assert.Equal(t, []string{"cpp", "json"}, m.Names())
	require.Len(t, m.Archives, 3)
	assert.Equal(t, ".grammargen/lib/libparser_c.a", m.Archives[0].Path)
	assert.Equal(t, 2, m.Archives[0].Units)

	json := m.Grammars["json"]
	assert.Equal(t, "Json", json.GoName)
	assert.Equal(t, "tree_sitter_json", json.Symbol)
	assert.Equal(t, tinySHA, json.Revision)
	assert.Equal(t, "https://example.com/tree-sitter-json", json.RepoURL)
	assert.Equal(t, []string{"highlights"}, json.Queries)
	assert.Len(t, json.SHA256, 64)
	assert.Equal(t, ".grammargen/grammars/json"+treesitter.LibExtension(), json.Library)

	assert.Equal(t, "c++", m.Grammars["cpp"].Scanner)
	assert.Empty(t, m.Grammars["cpp"].Revision)
}

func TestNewGenerator_InvalidConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Package = "not-an-identifier"
	_, err := NewGenerator(cfg, &fakeCompiler{}, nil, nil)
	require.Error(t, err)
}

// TestGenerator_RealToolchain drives the system compiler end to end.
func TestGenerator_RealToolchain(t *testing.T) {
	tc := cc.New(cc.Config{}, nil)
	if err := tc.Available(); err != nil {
		t.Skipf("no C compiler: %v", err)
	}
	if _, err := exec.LookPath("ar"); err != nil {
		t.Skip("ar not available")
	}
	t.Cleanup(func() { tc.Close() })

	p := newProject(t)
	p.grammar("tiny-lang", "queries/highlights.scm")
	p.write("grammars/tiny-lang/src/parser.c", "const void *tree_sitter_tiny_lang(void) { return 0; }\n")
	p.write("grammars/tiny-lang/src/scanner.c", "int tiny_scan(void) { return 1; }\n")
	p.gitmodules("tiny-lang")

	res, err := p.generator(tc).Run(context.Background())
	require.NoError(t, err)
	for _, jr := range res.Compile.Jobs {
		assert.FileExists(t, jr.Archive)
	}
	assert.Contains(t, p.read("grammars/grammars_gen.go"), "extern const TSLanguage *tree_sitter_tiny_lang(void);")
}

// =============================================================================
// Watch
// =============================================================================

// fakeWatcher hands the registered callback to the test.
type fakeWatcher struct {
	mu       sync.Mutex
	root     string
	onChange func(string)
	files    []string
	stopped  bool
}

func (w *fakeWatcher) Watch(root string, onChange func(string)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.root = root
	w.onChange = onChange
	return nil
}

func (w *fakeWatcher) WatchFiles(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = append(w.files, paths...)
	return nil
}

func (w *fakeWatcher) watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

func (w *fakeWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

func (w *fakeWatcher) fire(path string) {
	w.mu.Lock()
	fn := w.onChange
	w.mu.Unlock()
	fn(path)
}

func TestGenerator_WatchRerunsOnChange(t *testing.T) {
	p := newProject(t)
	p.grammar("json")
	p.gitmodules("json")
	g := p.generator(&fakeCompiler{})

	type pass struct {
		res *Result
		err error
	}
	passes := make(chan pass, 4)
	w := &fakeWatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Watch(ctx, w, func(r *Result, err error) { passes <- pass{r, err} })
	}()

	first := <-passes
	require.NoError(t, first.err)
	assert.Len(t, first.res.Packages, 1)
	assert.Equal(t, p.root, w.root)

	p.grammar("toml")
	w.fire(filepath.Join(p.root, "grammars", "toml", "src", "parser.c"))

	select {
	case second := <-passes:
		require.NoError(t, second.err)
		assert.Len(t, second.res.Packages, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no pass after change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	assert.True(t, w.stopped)
}

func TestGenerator_WatchFollowsGitRefs(t *testing.T) {
	p := newProject(t)
	p.grammar("json")
	p.gitmodules("json")
	p.write(".git/modules/grammars/json/refs/heads/master", tinySHA+"\n")
	g := p.generator(&fakeCompiler{})

	type pass struct {
		res *Result
		err error
	}
	passes := make(chan pass, 4)
	w := &fakeWatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Watch(ctx, w, func(r *Result, err error) { passes <- pass{r, err} })
	}()
	defer func() {
		cancel()
		<-done
	}()

	first := <-passes
	require.NoError(t, first.err)
	assert.Equal(t, tinySHA, first.res.Packages[0].Revision)

	moduleDir := filepath.Join(p.root, ".git", "modules", "grammars", "json")
	ref := filepath.Join(moduleDir, "refs", "heads", "master")
	assert.Contains(t, w.watched(), ref)
	assert.Contains(t, w.watched(), filepath.Join(moduleDir, "refs", "heads", "main"))
	assert.Contains(t, w.watched(), filepath.Join(moduleDir, "packed-refs"))

	const next = "9999999999999999999999999999999999999999"
	p.write(".git/modules/grammars/json/refs/heads/master", next+"\n")
	w.fire(ref)

	select {
	case second := <-passes:
		require.NoError(t, second.err)
		assert.Equal(t, next, second.res.Packages[0].Revision)
		assert.Contains(t, p.read("grammars/grammars_gen.go"), "// REF: "+next)
	case <-time.After(5 * time.Second):
		t.Fatal("no pass after ref update")
	}
}

func TestGenerator_WatchReportsFailedPass(t *testing.T) {
	p := newProject(t)
	p.grammar("json")
	g := p.generator(&fakeCompiler{})

	var got error
	ctx, cancel := context.WithCancel(context.Background())
	err := g.Watch(ctx, &fakeWatcher{}, func(_ *Result, err error) {
		got = err
		cancel()
	})
	require.NoError(t, err)
	assert.True(t, errors.Is(got, registry.ErrNoRegistry))
}
