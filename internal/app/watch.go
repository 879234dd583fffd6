package app

import (
	"context"
	"path/filepath"

	"github.com/corey/grammargen/internal/domain/grammar"
	"github.com/corey/grammargen/internal/domain/registry"
	"github.com/corey/grammargen/internal/ports"
)

// Watch runs a pass immediately and again whenever the watcher reports a
// generator input change, until ctx is cancelled. Changes arriving during a
// pass only mark the project dirty; passes never overlap. report receives
// the outcome of every pass. A failed pass does not stop watching.
//
// The recursive watch skips .git, so after every successful pass the branch
// ref files each grammar's revision is read from are added explicitly.
func (g *Generator) Watch(ctx context.Context, w ports.Watcher, report func(*Result, error)) error {
	dirty := make(chan struct{}, 1)
	markDirty := func(path string) {
		g.log.Debug("input changed", "path", path)
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	if err := w.Watch(g.watchRoot(), markDirty); err != nil {
		return err
	}
	defer w.Stop()

	res, err := g.Run(ctx)
	g.watchRefs(w, res)
	report(res, err)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dirty:
			res, err := g.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			g.watchRefs(w, res)
			report(res, err)
		}
	}
}

func (g *Generator) watchRefs(w ports.Watcher, res *Result) {
	if res == nil {
		return
	}
	if err := w.WatchFiles(refFiles(g.paths.GitDir, res.Packages)); err != nil {
		g.log.Warn("could not watch git refs", "err", err)
	}
}

// refFiles lists the loose refs and packed-refs file of every package.
func refFiles(gitDir string, pkgs []*grammar.Package) []string {
	var files []string
	for _, p := range pkgs {
		files = append(files, registry.RefPaths(gitDir, p.Dir)...)
		files = append(files, filepath.Join(registry.ModuleDir(gitDir, p.Dir), "packed-refs"))
	}
	return files
}

// watchRoot is the project root when it contains the grammars dir, so
// .gitmodules edits are seen too; otherwise the grammars dir itself.
func (g *Generator) watchRoot() string {
	if _, ok := within(g.paths.Root, g.paths.GrammarsDir); ok {
		return g.paths.Root
	}
	return g.paths.GrammarsDir
}
