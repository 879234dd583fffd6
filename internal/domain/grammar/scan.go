package grammar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Scan lists the immediate subdirectories of root and probes each for the
// well-known grammar files. Non-directory entries are ignored; symlinks are
// followed. Any I/O error aborts the scan.
//
// Packages are returned sorted by directory name so repeated runs produce
// byte-identical output on every platform.
func Scan(root string) ([]*Package, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve grammars root: %w", err)
	}
	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("read grammars root: %w", err)
	}

	var pkgs []*Package
	for _, e := range entries {
		path := filepath.Join(absRoot, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			continue
		}
		pkg, err := probe(e.Name(), path)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Dir < pkgs[j].Dir })

	if err := checkUnique(pkgs); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// probe builds a Package and fills in its presence flags.
func probe(dir, path string) (*Package, error) {
	pkg := &Package{
		Dir:    dir,
		Path:   path,
		Module: ModuleName(dir),
	}
	checks := []struct {
		rel  string
		flag *bool
	}{
		{ParserFile, &pkg.HasParser},
		{ScannerCFile, &pkg.HasScannerC},
		{ScannerCCFile, &pkg.HasScannerCC},
		{HighlightsFile, &pkg.HasHighlights},
		{InjectionsFile, &pkg.HasInjections},
		{LocalsFile, &pkg.HasLocals},
		{GoModFile, &pkg.HasGoMod},
	}
	for _, c := range checks {
		ok, err := isFile(pkg.File(c.rel))
		if err != nil {
			return nil, err
		}
		*c.flag = ok
	}
	return pkg, nil
}

// isFile reports whether path exists and is a regular file. A missing file
// is not an error; anything else (permissions, I/O) is.
func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// checkUnique rejects directory names that normalize to the same module name
// or Go identifier ("foo-bar" and "foo_bar").
func checkUnique(pkgs []*Package) error {
	modules := make(map[string]string, len(pkgs))
	goNames := make(map[string]string, len(pkgs))
	for _, p := range pkgs {
		if other, ok := modules[p.Module]; ok {
			return fmt.Errorf("grammars %q and %q both map to module %q", other, p.Dir, p.Module)
		}
		modules[p.Module] = p.Dir
		gn := p.GoName()
		if other, ok := goNames[gn]; ok {
			return fmt.Errorf("grammars %q and %q both map to Go name %q", other, p.Dir, gn)
		}
		goNames[gn] = p.Dir
	}
	return nil
}
