// Package app wires the domain packages and adapters into generation passes.
// A pass scans the grammars root, compiles the native archives, resolves
// submodule provenance and writes the Go bindings plus their depfile and
// manifest.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corey/grammargen/internal/adapters/treesitter"
	"github.com/corey/grammargen/internal/config"
	"github.com/corey/grammargen/internal/domain/compile"
	"github.com/corey/grammargen/internal/domain/emit"
	"github.com/corey/grammargen/internal/domain/grammar"
	"github.com/corey/grammargen/internal/domain/registry"
	"github.com/corey/grammargen/internal/ports"
)

// Generator runs generation passes for one project. A pass is strictly
// sequential; concurrent Run calls on the same Generator are not supported.
type Generator struct {
	cfg      *config.Config
	paths    *config.Paths
	compiler ports.Compiler
	store    ports.FingerprintStore
	log      *slog.Logger
}

// Result summarizes one generation pass.
type Result struct {
	Packages []*grammar.Package
	Compile  *compile.Result
	Changed  bool // a generated file differs from what was on disk
	Elapsed  time.Duration
}

// NewGenerator validates cfg and resolves its paths. store may be nil.
func NewGenerator(cfg *config.Config, compiler ports.Compiler, store ports.FingerprintStore, log *slog.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paths, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{cfg: cfg, paths: paths, compiler: compiler, store: store, log: log}, nil
}

// Paths returns the resolved locations the generator uses.
func (g *Generator) Paths() *config.Paths {
	return g.paths
}

// Run performs one pass: scan, compile, resolve provenance, emit, write.
// Generated files are written only after both rendered successfully, so a
// failed pass leaves the previous output untouched.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	pkgs, err := grammar.Scan(g.paths.GrammarsDir)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(g.paths.Registry)
	if err != nil {
		return nil, err
	}
	g.log.Debug("scanned grammars", "root", g.paths.GrammarsDir, "count", len(pkgs))

	orch := compile.NewOrchestrator(g.compiler, g.store, g.compileOptions(), g.log)
	for _, p := range pkgs {
		orch.Add(p)
	}
	cres, err := orch.Run(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range pkgs {
		g.resolveProvenance(reg, p)
	}

	em := emit.New(emit.Options{
		Package:         g.cfg.Package,
		OutputDir:       g.paths.GrammarsDir,
		LibDir:          g.paths.LibDir,
		MainFile:        g.cfg.Output,
		HighlightFile:   g.cfg.HighlightOutput,
		HighlightImport: g.cfg.HighlightImport,
	})
	out, err := em.Emit(pkgs)
	if err != nil {
		return nil, fmt.Errorf("render bindings: %w", err)
	}

	changed, err := writeFiles(map[string][]byte{
		g.paths.Output:          out.Main,
		g.paths.HighlightOutput: out.Highlight,
	})
	if err != nil {
		return nil, err
	}

	if err := g.writeDepfile(orch.Triggers(), pkgs); err != nil {
		return nil, err
	}
	if err := g.writeManifest(pkgs, cres); err != nil {
		return nil, err
	}

	res := &Result{Packages: pkgs, Compile: cres, Changed: changed, Elapsed: time.Since(start)}
	g.log.Info("generated bindings", "grammars", len(pkgs), "output", g.paths.Output, "changed", changed,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (g *Generator) compileOptions() compile.Options {
	opts := compile.Options{
		ProjectID: g.paths.GrammarsDir,
		Root:      g.paths.Root,
		LibDir:    g.paths.LibDir,
		ObjDir:    g.paths.ObjDir,
		Extra:     g.cfg.CFlags,
		Force:     g.cfg.Force,
	}
	if g.cfg.Shared {
		opts.SharedDir = g.paths.SharedDir
		opts.SharedExt = treesitter.LibExtension()
	}
	return opts
}

// resolveProvenance fills URL and Revision. Both are best effort: a grammar
// without a registry entry or a readable ref still generates.
func (g *Generator) resolveProvenance(reg registry.Registry, p *grammar.Package) {
	if url, ok := reg.URL(p.Dir); ok {
		p.URL = url
	}
	rev, ok, err := registry.ResolveRevision(g.paths.GitDir, p.Dir)
	switch {
	case err != nil:
		g.log.Warn("unable to read grammar revision", "grammar", p.Dir, "err", err)
	case !ok:
		g.log.Debug("no revision for grammar", "grammar", p.Dir)
	default:
		p.Revision = rev
	}
}

// writeFiles replaces each path whose content differs. Every new file is
// staged first; renames happen only once all staging writes succeeded.
func writeFiles(files map[string][]byte) (changed bool, err error) {
	var staged []string
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()

	var targets []string
	for path, data := range files {
		old, err := os.ReadFile(path)
		if err == nil && bytes.Equal(old, data) {
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("read %s: %w", path, err)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return false, fmt.Errorf("write %s: %w", path, err)
		}
		staged = append(staged, tmp)
		targets = append(targets, path)
	}

	for i, path := range targets {
		if err := os.Rename(staged[i], path); err != nil {
			return false, fmt.Errorf("replace %s: %w", path, err)
		}
	}
	staged = nil
	return len(targets) > 0, nil
}

// depfileInputs lists every file whose change should rerun the generator:
// compiled sources, the registry, embedded files and existing refs.
func (g *Generator) depfileInputs(triggers []string, pkgs []*grammar.Package) []string {
	deps := append([]string(nil), triggers...)
	deps = append(deps, g.paths.Registry)
	for _, p := range pkgs {
		for _, rel := range []string{grammar.GrammarFile, grammar.NodeTypesFile} {
			if fileExists(p.File(rel)) {
				deps = append(deps, p.File(rel))
			}
		}
		for _, q := range []struct {
			has bool
			rel string
		}{
			{p.HasHighlights, grammar.HighlightsFile},
			{p.HasInjections, grammar.InjectionsFile},
			{p.HasLocals, grammar.LocalsFile},
			{p.HasGoMod, grammar.GoModFile},
		} {
			if q.has {
				deps = append(deps, p.File(q.rel))
			}
		}
		for _, ref := range registry.RefPaths(g.paths.GitDir, p.Dir) {
			if fileExists(ref) {
				deps = append(deps, ref)
			}
		}
	}
	return deps
}

func (g *Generator) writeDepfile(triggers []string, pkgs []*grammar.Package) error {
	deps := g.depfileInputs(triggers, pkgs)
	for i, d := range deps {
		deps[i] = g.rel(d)
	}
	var buf bytes.Buffer
	if err := compile.WriteDepfile(&buf, g.rel(g.paths.Output), deps); err != nil {
		return err
	}
	if _, err := writeFiles(map[string][]byte{g.paths.Depfile: buf.Bytes()}); err != nil {
		return fmt.Errorf("depfile: %w", err)
	}
	return nil
}

func (g *Generator) writeManifest(pkgs []*grammar.Package, cres *compile.Result) error {
	m := treesitter.NewManifest(g.rel(g.paths.Output))
	for _, jr := range cres.Jobs {
		sum, err := treesitter.FileSHA256(jr.Archive)
		if err != nil {
			return fmt.Errorf("hash %s: %w", jr.Archive, err)
		}
		m.Archives = append(m.Archives, treesitter.ArchiveInfo{
			Kind:   string(jr.Kind),
			Path:   g.rel(jr.Archive),
			Flags:  jr.Flags,
			Units:  jr.Files,
			SHA256: sum,
		})
	}

	for _, p := range pkgs {
		info := treesitter.GrammarInfo{
			Name:     p.Dir,
			Module:   p.Module,
			GoName:   p.GoName(),
			Symbol:   p.Symbol(),
			RepoURL:  p.URL,
			Revision: p.Revision,
			Queries:  queryNames(p),
		}
		switch {
		case p.HasScannerCC:
			info.Scanner = string(ports.LangCXX)
		case p.HasScannerC:
			info.Scanner = string(ports.LangC)
		}
		if p.HasParser {
			sum, err := treesitter.FileSHA256(p.File(grammar.ParserFile))
			if err != nil {
				return fmt.Errorf("hash %s parser: %w", p.Dir, err)
			}
			info.SHA256 = sum
		}
		if lib, ok := cres.Shared[p.Dir]; ok {
			sum, err := treesitter.FileSHA256(lib)
			if err != nil {
				return fmt.Errorf("hash %s library: %w", p.Dir, err)
			}
			info.Library = g.rel(lib)
			info.LibrarySHA256 = sum
		}
		m.Grammars[p.Dir] = info
	}
	return m.Write(g.paths.Manifest)
}

func queryNames(p *grammar.Package) []string {
	var qs []string
	if p.HasHighlights {
		qs = append(qs, "highlights")
	}
	if p.HasInjections {
		qs = append(qs, "injections")
	}
	if p.HasLocals {
		qs = append(qs, "locals")
	}
	return qs
}

// rel returns path relative to the project root in slash form, or the
// absolute path when it lies outside the root.
func (g *Generator) rel(path string) string {
	if r, ok := within(g.paths.Root, path); ok {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}

// within returns path relative to root when path lies inside it.
func within(root, path string) (string, bool) {
	r, err := filepath.Rel(root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return r, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
