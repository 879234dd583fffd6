// Package cc implements ports.Compiler on top of the system C toolchain.
//
// It shells out to the configured C compiler, C++ compiler and archiver.
// Driver strings may carry leading words ("ccache gcc"); they are split on
// whitespace before exec.
package cc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/corey/grammargen/internal/ports"
)

// Config names the toolchain programs. Empty fields fall back to cc, c++
// and ar on PATH.
type Config struct {
	CC  string
	CXX string
	AR  string
}

const (
	defaultCC  = "cc"
	defaultCXX = "c++"
	defaultAR  = "ar"
)

// emptyArchive is the global header of an ar archive with no members.
// Some archivers refuse to create an archive without inputs, so it is
// written directly.
const emptyArchive = "!<arch>\n"

// Toolchain runs the native compiler. It is safe for concurrent use.
type Toolchain struct {
	cc  []string
	cxx []string
	ar  []string
	log *slog.Logger

	mu       sync.Mutex
	probed   map[string]bool // lang + "\x00" + flag -> accepted
	probeDir string
	probes   int // probe invocations, for tests
}

var _ ports.Compiler = (*Toolchain)(nil)

// New creates a toolchain from cfg.
func New(cfg Config, log *slog.Logger) *Toolchain {
	if log == nil {
		log = slog.Default()
	}
	return &Toolchain{
		cc:     driver(cfg.CC, defaultCC),
		cxx:    driver(cfg.CXX, defaultCXX),
		ar:     driver(cfg.AR, defaultAR),
		log:    log,
		probed: make(map[string]bool),
	}
}

func driver(v, fallback string) []string {
	if f := strings.Fields(v); len(f) > 0 {
		return f
	}
	return []string{fallback}
}

// Available reports whether the C compiler can be found.
func (t *Toolchain) Available() error {
	if _, err := exec.LookPath(t.cc[0]); err != nil {
		return fmt.Errorf("C compiler %q: %w", t.cc[0], err)
	}
	return nil
}

func (t *Toolchain) compiler(lang ports.SourceLang) []string {
	if lang == ports.LangCXX {
		return t.cxx
	}
	return t.cc
}

// Driver returns a copy of the compiler command for lang.
func (t *Toolchain) Driver(lang ports.SourceLang) []string {
	return append([]string(nil), t.compiler(lang)...)
}

// SupportedFlags probes each flag by compiling a trivial translation unit
// with -Werror. Results are cached per language for the toolchain's life.
func (t *Toolchain) SupportedFlags(ctx context.Context, lang ports.SourceLang, flags []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ok []string
	for _, flag := range flags {
		key := string(lang) + "\x00" + flag
		accepted, cached := t.probed[key]
		if !cached {
			var err error
			accepted, err = t.probe(ctx, lang, flag)
			if err != nil {
				return nil, err
			}
			t.probed[key] = accepted
		}
		if accepted {
			ok = append(ok, flag)
		} else {
			t.log.Debug("compiler rejected flag", "lang", lang, "flag", flag)
		}
	}
	return ok, nil
}

func (t *Toolchain) probe(ctx context.Context, lang ports.SourceLang, flag string) (bool, error) {
	if t.probeDir == "" {
		dir, err := os.MkdirTemp("", "grammargen-probe-")
		if err != nil {
			return false, fmt.Errorf("probe dir: %w", err)
		}
		t.probeDir = dir
	}

	name := "probe.c"
	if lang == ports.LangCXX {
		name = "probe.cc"
	}
	src := filepath.Join(t.probeDir, name)
	if err := os.WriteFile(src, []byte("int main(void) { return 0; }\n"), 0o644); err != nil {
		return false, fmt.Errorf("probe source: %w", err)
	}

	t.probes++
	args := []string{"-Werror", flag, "-c", "-o", filepath.Join(t.probeDir, "probe.o"), src}
	err := t.run(ctx, t.compiler(lang), args...)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err == nil, nil
}

// Close removes the probe scratch directory.
func (t *Toolchain) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.probeDir == "" {
		return nil
	}
	err := os.RemoveAll(t.probeDir)
	t.probeDir = ""
	return err
}

// CompileObject runs the driver for unit.Lang with -c.
func (t *Toolchain) CompileObject(ctx context.Context, unit ports.CompileUnit) error {
	args := make([]string, 0, len(unit.Flags)+len(unit.Includes)+4)
	args = append(args, unit.Flags...)
	for _, inc := range unit.Includes {
		args = append(args, "-I"+inc)
	}
	args = append(args, "-c", unit.Source, "-o", unit.Object)
	return t.run(ctx, t.compiler(unit.Lang), args...)
}

// Archive replaces path with a fresh archive of objects. An empty object
// list yields a valid archive with no members.
func (t *Toolchain) Archive(ctx context.Context, path string, objects []string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale archive: %w", err)
	}
	if len(objects) == 0 {
		return os.WriteFile(path, []byte(emptyArchive), 0o644)
	}
	args := append([]string{"rcs", path}, objects...)
	return t.run(ctx, t.ar, args...)
}

// LinkShared links objects into a shared library. The C++ driver is used
// when any object came from C++ so its runtime is linked in.
func (t *Toolchain) LinkShared(ctx context.Context, path string, objects []string, cplusplus bool) error {
	drv := t.cc
	if cplusplus {
		drv = t.cxx
	}
	args := append([]string{"-shared", "-o", path}, objects...)
	return t.run(ctx, drv, args...)
}

// ToolError carries the failed command line and its diagnostics.
type ToolError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Command, e.Err, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

func (t *Toolchain) run(ctx context.Context, drv []string, args ...string) error {
	argv := append(append([]string(nil), drv[1:]...), args...)
	cmd := exec.CommandContext(ctx, drv[0], argv...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	line := strings.Join(append([]string{drv[0]}, argv...), " ")
	t.log.Debug("exec", "cmd", line)
	if err := cmd.Run(); err != nil {
		return &ToolError{Command: line, Stderr: stderr.String(), Err: err}
	}
	return nil
}
