// Package registry resolves the upstream provenance of grammar packages from
// git submodule metadata: the URL from the .gitmodules file at the project
// root, and the checked-out revision from the nested module refs under
// .git/modules/grammars/<name>.
//
// Neither lookup talks to git itself; only files already on disk are read.
package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoRegistry is returned when the module registry file cannot be opened.
var ErrNoRegistry = errors.New("module registry not readable")

// Registry maps a grammar directory name to its upstream URL.
// Built once per generation pass, read-only afterward.
type Registry map[string]string

// Load reads and parses the registry file at path.
// A missing or unreadable file is fatal for the generation pass.
func Load(path string) (Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoRegistry, err)
	}
	defer f.Close()

	reg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoRegistry, path, err)
	}
	return reg, nil
}

// Parse reads records of three consecutive non-blank trimmed lines: a group
// header (ignored), a "path = <value>" line and a "url = <value>" line.
// The key of each record is the last non-empty '/' segment of the path.
// A trailing group with fewer than three lines is ignored.
func Parse(r io.Reader) (Registry, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	reg := make(Registry)
	for i := 0; i+3 <= len(lines); i += 3 {
		path := strings.TrimPrefix(lines[i+1], "path = ")
		url := strings.TrimPrefix(lines[i+2], "url = ")
		if name := lastSegment(path); name != "" {
			reg[name] = url
		}
	}
	return reg, nil
}

// URL returns the upstream URL recorded for a grammar directory.
func (r Registry) URL(dir string) (string, bool) {
	url, ok := r[dir]
	return url, ok
}

func lastSegment(path string) string {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}
