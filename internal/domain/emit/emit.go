// Package emit renders the Go bindings for a set of scanned grammar packages.
//
// Two files are produced. The main file links the compiled archives through
// cgo and gives every grammar a group of declarations sharing a Go
// identifier prefix: a Language accessor plus embedded grammar, node-types
// and query text. The second file is gated by the "highlight" build tag and
// holds one highlight configuration constructor per grammar.
package emit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/corey/grammargen/internal/domain/grammar"
)

// Header is the first line of every generated file. Tools recognise it as
// the marker of generated code.
const Header = "// Code generated by grammargen. DO NOT EDIT."

// HighlightTag gates the configuration constructors.
const HighlightTag = "highlight"

const (
	treeSitterImport = "github.com/tree-sitter/go-tree-sitter"

	// DefaultHighlightImport is the runtime the highlight file calls into.
	DefaultHighlightImport = "github.com/corey/grammargen/highlight"
)

// unresolvedRef is written when no branch ref could be read for a grammar.
const unresolvedRef = "ERRO: Unable to get repo ref"

// archives in link order; parsers reference scanner symbols.
var archives = []string{"parser_c", "scanner_c", "scanner_cpp"}

// Options controls where the generated files live and what they link.
type Options struct {
	Package string // Go package name of the generated files

	// OutputDir is the directory the generated files are written to. It must
	// be the grammars root: go:embed patterns cannot reach parent dirs.
	OutputDir string
	LibDir    string // directory holding the lib<kind>.a archives

	MainFile      string // file name used in format errors
	HighlightFile string

	HighlightImport string

	// ReadFile loads the files of packages that carry their own go.mod.
	// Defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

// Output holds the rendered, formatted files.
type Output struct {
	Main      []byte
	Highlight []byte
}

// Emitter renders bindings. It holds no state between calls.
type Emitter struct {
	opts Options
}

// New creates an emitter, filling defaults for empty options.
func New(opts Options) *Emitter {
	if opts.Package == "" {
		opts.Package = "grammars"
	}
	if opts.MainFile == "" {
		opts.MainFile = "grammars_gen.go"
	}
	if opts.HighlightFile == "" {
		opts.HighlightFile = "grammars_highlight_gen.go"
	}
	if opts.HighlightImport == "" {
		opts.HighlightImport = DefaultHighlightImport
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	return &Emitter{opts: opts}
}

// Emit renders both files for pkgs, in the order given. Nothing is written
// to disk; a formatting failure means the generated text is not valid Go.
// Files of a package with its own go.mod are read here and inlined, so a
// missing grammar.js in such a package fails generation rather than the
// consumer's build.
func (e *Emitter) Emit(pkgs []*grammar.Package) (*Output, error) {
	w, err := e.renderMain(pkgs)
	if err != nil {
		return nil, err
	}
	main, err := w.Format(e.opts.MainFile)
	if err != nil {
		return nil, err
	}
	hl, err := e.renderHighlight(pkgs).Format(e.opts.HighlightFile)
	if err != nil {
		return nil, err
	}
	return &Output{Main: main, Highlight: hl}, nil
}

func (e *Emitter) renderMain(pkgs []*grammar.Package) (*codeBuilder, error) {
	w := &codeBuilder{}
	w.Linef("%s", Header)
	w.Blank()
	w.Linef("package %s", e.opts.Package)
	w.Blank()

	w.Linef("/*")
	w.Linef("#cgo LDFLAGS: %s", e.ldflags())
	if needsCXXRuntime(pkgs) {
		w.Linef("#cgo linux LDFLAGS: -lstdc++")
		w.Linef("#cgo darwin LDFLAGS: -lc++")
	}
	w.Blank()
	w.Linef("typedef struct TSLanguage TSLanguage;")
	w.Blank()
	for _, p := range pkgs {
		w.Linef("extern const TSLanguage *%s(void);", p.Symbol())
	}
	w.Linef("*/")
	w.Linef(`import "C"`)
	w.Blank()

	w.Block("import (", ")", func() {
		w.Linef(`_ "embed"`)
		if len(pkgs) > 0 {
			w.Linef(`"unsafe"`)
		}
		w.Blank()
		w.Linef("tree_sitter %q", treeSitterImport)
	})
	w.Blank()

	w.Comment("Module describes one compiled grammar.")
	w.Block("type Module struct {", "}", func() {
		w.Linef("Name     string // grammar directory")
		w.Linef("URL      string // upstream repository, empty if unknown")
		w.Linef("Revision string // checked-out commit, empty if unknown")
		w.Linef("Language func() *tree_sitter.Language")
	})
	w.Blank()

	w.Comment("Modules lists every compiled grammar.")
	w.Block("var Modules = []Module{", "}", func() {
		for _, p := range pkgs {
			w.Linef("{Name: %q, URL: %q, Revision: %q, Language: %sLanguage},",
				p.Dir, p.URL, p.Revision, p.GoName())
		}
	})

	for _, p := range pkgs {
		w.Blank()
		if err := e.renderModule(w, p); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (e *Emitter) renderModule(w *codeBuilder, p *grammar.Package) error {
	name := p.GoName()

	w.Comment(languageDoc(p))
	w.Block(fmt.Sprintf("func %sLanguage() *tree_sitter.Language {", name), "}", func() {
		w.Linef("return tree_sitter.NewLanguage(unsafe.Pointer(C.%s()))", p.Symbol())
	})

	files := []packageFile{
		{name + "Grammar", fmt.Sprintf("%s is the grammar.js source of %s.", name+"Grammar", p.Dir), grammar.GrammarFile},
		{name + "NodeTypes", fmt.Sprintf("%s is the node-types.json of %s.", name+"NodeTypes", p.Dir), grammar.NodeTypesFile},
	}
	for _, q := range queries(p) {
		files = append(files, packageFile{name + q.ident, fmt.Sprintf("%s is the %s query of %s.", name+q.ident, q.kind, p.Dir), q.file})
	}

	for _, f := range files {
		if !p.HasGoMod {
			embed(w, f.ident, f.doc, p.EmbedPath(f.rel))
			continue
		}
		data, err := e.opts.ReadFile(p.File(f.rel))
		if err != nil {
			return fmt.Errorf("grammar %q has its own go.mod so %s must be inlined: %w", p.Dir, f.rel, err)
		}
		inline(w, f.ident, f.doc, data)
	}
	return nil
}

// packageFile is one string declaration backed by a grammar package file.
type packageFile struct {
	ident string
	doc   string
	rel   string
}

func languageDoc(p *grammar.Package) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sLanguage returns the tree-sitter language of the %s grammar.\n\n", p.GoName(), p.Dir)
	if p.HasUpstream() {
		fmt.Fprintf(&b, "REPO: %s\n", p.URL)
	}
	if p.Revision != "" {
		fmt.Fprintf(&b, "REF: %s\n", p.Revision)
	} else {
		b.WriteString(unresolvedRef + "\n")
	}
	return b.String()
}

func embed(w *codeBuilder, ident, doc, path string) {
	w.Blank()
	w.Comment(doc)
	w.Linef("//")
	w.Linef("//go:embed %s", embedPattern(path))
	w.Linef("var %s string", ident)
}

// inline declares the file contents as a string literal. go:embed cannot
// reach into a directory that belongs to another module.
func inline(w *codeBuilder, ident, doc string, data []byte) {
	w.Blank()
	w.Comment(doc)
	w.Linef("var %s = %s", ident, strconv.Quote(string(data)))
}

// embedPattern quotes a path when go:embed would otherwise split it.
func embedPattern(path string) string {
	if strings.ContainsAny(path, " \t\"'`") {
		return strconv.Quote(path)
	}
	return path
}

type query struct {
	ident string
	kind  string
	file  string
}

// queries lists the query files a package declares, in the order the
// highlight configuration takes them.
func queries(p *grammar.Package) []query {
	var qs []query
	if p.HasHighlights {
		qs = append(qs, query{"HighlightsQuery", "highlights", grammar.HighlightsFile})
	}
	if p.HasInjections {
		qs = append(qs, query{"InjectionsQuery", "injections", grammar.InjectionsFile})
	}
	if p.HasLocals {
		qs = append(qs, query{"LocalsQuery", "locals", grammar.LocalsFile})
	}
	return qs
}

func (e *Emitter) renderHighlight(pkgs []*grammar.Package) *codeBuilder {
	w := &codeBuilder{}
	w.Linef("%s", Header)
	w.Blank()
	w.Linef("//go:build %s", HighlightTag)
	w.Blank()
	w.Linef("package %s", e.opts.Package)

	if len(pkgs) == 0 {
		return w
	}
	w.Blank()
	w.Linef("import %q", e.opts.HighlightImport)

	for _, p := range pkgs {
		name := p.GoName()
		hq, iq, lq := `""`, `""`, `""`
		if p.HasHighlights {
			hq = name + "HighlightsQuery"
		}
		if p.HasInjections {
			iq = name + "InjectionsQuery"
		}
		if p.HasLocals {
			lq = name + "LocalsQuery"
		}

		w.Blank()
		w.Comment(fmt.Sprintf("%sConfig compiles the highlight configuration of %s.\n"+
			"Missing queries are passed as empty strings; a query that fails to\n"+
			"compile is returned as a *tree_sitter.QueryError.", name, p.Dir))
		w.Block(fmt.Sprintf("func %sConfig() (*highlight.Configuration, error) {", name), "}", func() {
			w.Linef("return highlight.NewConfiguration(%sLanguage(), %s, %s, %s)", name, hq, iq, lq)
		})
	}
	return w
}

func (e *Emitter) ldflags() string {
	dir := filepath.ToSlash(e.opts.LibDir)
	if rel, err := filepath.Rel(e.opts.OutputDir, e.opts.LibDir); err == nil && e.opts.OutputDir != "" {
		dir = "${SRCDIR}/" + filepath.ToSlash(rel)
	}
	flags := []string{"-L" + dir}
	for _, a := range archives {
		flags = append(flags, "-l"+a)
	}
	if strings.ContainsAny(flags[0], " \t") {
		flags[0] = strconv.Quote(flags[0])
	}
	return strings.Join(flags, " ")
}

func needsCXXRuntime(pkgs []*grammar.Package) bool {
	for _, p := range pkgs {
		if p.HasScannerCC {
			return true
		}
	}
	return false
}
