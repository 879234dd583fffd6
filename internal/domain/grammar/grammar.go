// Package grammar discovers tree-sitter grammar packages under a grammars root.
//
// A grammar package is any immediate subdirectory of the root. Its files are
// never parsed; the scanner only records which of the well-known files exist
// so the compiler and the emitter can decide what to reference.
package grammar

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/iancoleman/strcase"
)

// Well-known paths inside a grammar package, relative to the package dir.
const (
	ParserFile     = "src/parser.c"
	ScannerCFile   = "src/scanner.c"
	ScannerCCFile  = "src/scanner.cc"
	GrammarFile    = "grammar.js"
	NodeTypesFile  = "src/node-types.json"
	HighlightsFile = "queries/highlights.scm"
	InjectionsFile = "queries/injections.scm"
	LocalsFile     = "queries/locals.scm"
	GoModFile      = "go.mod"
	SourceDir      = "src"
)

// Package is one discovered grammar directory.
type Package struct {
	Dir    string // directory name, the package identity
	Path   string // absolute path to the directory
	Module string // identifier-safe module name derived from Dir

	HasParser     bool
	HasScannerC   bool
	HasScannerCC  bool
	HasHighlights bool
	HasInjections bool
	HasLocals     bool

	// HasGoMod marks an upstream checkout that is its own Go module. The
	// go command refuses to embed files from another module, so the
	// emitter inlines such a package's files instead.
	HasGoMod bool

	URL      string // empty when the registry has no entry
	Revision string // empty when no ref file exists
}

// File returns the absolute path of a well-known file inside the package.
func (p *Package) File(rel string) string {
	return filepath.Join(p.Path, filepath.FromSlash(rel))
}

// EmbedPath returns the slash-separated path of a package file relative to
// the grammars root, which is the form go:embed patterns take.
func (p *Package) EmbedPath(rel string) string {
	return p.Dir + "/" + rel
}

// Symbol returns the C entry point the grammar exports.
func (p *Package) Symbol() string {
	return "tree_sitter_" + p.Module
}

// GoName returns the exported Go identifier prefix for the package's
// generated declarations ("tiny_lang" -> "TinyLang").
func (p *Package) GoName() string {
	return GoName(p.Module)
}

// HasUpstream reports whether the registry resolved a URL for the package.
func (p *Package) HasUpstream() bool {
	return p.URL != ""
}

// ModuleName derives an identifier-safe module name from a directory name.
// Every rune that is not an ASCII letter, digit or underscore becomes '_'.
// A leading digit is kept: the C symbol carries a tree_sitter_ prefix, so
// "1c" links as tree_sitter_1c.
func ModuleName(dir string) string {
	var b strings.Builder
	b.Grow(len(dir))
	for _, r := range dir {
		if r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// GoName converts a module name into an exported Go identifier.
// Names that would not start with a letter get a "Grammar" prefix.
func GoName(module string) string {
	name := strcase.ToCamel(module)
	if name == "" {
		return "Grammar"
	}
	if r := rune(name[0]); !unicode.IsLetter(r) {
		name = "Grammar" + name
	}
	return name
}
