package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// branches are tried in order; the first ref found wins.
var branches = []string{"master", "main"}

// ModuleDir returns the nested git metadata directory of a grammar submodule.
func ModuleDir(gitDir, dir string) string {
	return filepath.Join(gitDir, "modules", "grammars", dir)
}

// RefPaths returns the loose ref files consulted for a grammar, in lookup
// order. Used both for resolution and for rebuild-trigger registration.
func RefPaths(gitDir, dir string) []string {
	heads := filepath.Join(ModuleDir(gitDir, dir), "refs", "heads")
	paths := make([]string, len(branches))
	for i, b := range branches {
		paths[i] = filepath.Join(heads, b)
	}
	return paths
}

// ResolveRevision returns the commit currently checked out for a grammar
// submodule. It reads refs/heads/master, then refs/heads/main, and finally
// falls back to packed-refs for the same two branches.
//
// A missing ref is not an error: ok is false and the caller degrades to an
// "unable to determine" marker. Read failures other than "not found" are
// returned.
func ResolveRevision(gitDir, dir string) (rev string, ok bool, err error) {
	for _, path := range RefPaths(gitDir, dir) {
		rev, ok, err := readFirstLine(path)
		if err != nil {
			return "", false, err
		}
		if ok {
			return rev, rev != "", nil
		}
	}
	return resolvePacked(filepath.Join(ModuleDir(gitDir, dir), "packed-refs"))
}

// readFirstLine returns the trimmed first line of a file.
func readFirstLine(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read ref %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), true, nil
	}
	if err := sc.Err(); err != nil {
		return "", false, fmt.Errorf("read ref %s: %w", path, err)
	}
	return "", true, nil
}

// resolvePacked scans a packed-refs file ("<sha> refs/heads/<branch>" lines,
// '#' comments and '^' peel lines skipped).
func resolvePacked(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read packed-refs %s: %w", path, err)
	}

	refs := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		sha, ref, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		refs[strings.TrimSpace(ref)] = sha
	}
	for _, b := range branches {
		if sha, ok := refs["refs/heads/"+b]; ok {
			return sha, true, nil
		}
	}
	return "", false, nil
}
