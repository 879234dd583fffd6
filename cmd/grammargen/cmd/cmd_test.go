package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/corey/grammargen/internal/adapters/bbolt"
	"github.com/corey/grammargen/internal/app"
	"github.com/corey/grammargen/internal/config"
	"github.com/corey/grammargen/internal/domain/compile"
	"github.com/corey/grammargen/internal/domain/grammar"
	"github.com/corey/grammargen/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.ErrorContains(t, err, "--log-level")
	_, err = newLogger(&buf, "info", "xml")
	assert.ErrorContains(t, err, "--log-format")
}

func TestResolveColor(t *testing.T) {
	assert.True(t, resolveColor("always", true))
	assert.False(t, resolveColor("never", false))
	assert.False(t, resolveColor("auto", true), "NO_COLOR wins in auto mode")
}

func TestIsDBLockError(t *testing.T) {
	assert.False(t, isDBLockError(nil))
	assert.False(t, isDBLockError(errors.New("permission denied")))
	assert.True(t, isDBLockError(fmt.Errorf("open cache: %w", errors.New("bbolt open: timeout"))))
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errors.New("module registry not readable"))
	assert.Equal(t, "error: module registry not readable\n", buf.String())

	buf.Reset()
	PrintError(&buf, errors.New("open cache: bbolt open: timeout"))
	assert.True(t, strings.HasPrefix(buf.String(), "error: open cache: bbolt open: timeout\n"))
	assert.Contains(t, buf.String(), "GRAMMARGEN_CACHE_DB")
}

func TestFormatResult(t *testing.T) {
	paths := &config.Paths{
		Root:      "/repo",
		Output:    "/repo/grammars/grammars_gen.go",
		SharedDir: "/repo/.grammargen/grammars",
	}
	res := &app.Result{
		Packages: []*grammar.Package{{Dir: "json"}, {Dir: "toml"}},
		Compile: &compile.Result{Jobs: []compile.JobResult{
			{Kind: compile.KindParser, Files: 2},
			{Kind: compile.KindScannerC, Files: 1, Skipped: true},
			{Kind: compile.KindScannerCXX, Files: 0, Skipped: true},
		}},
		Changed: true,
		Elapsed: 1200 * time.Millisecond,
	}

	got := formatResult(res, paths, false)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "⚡ 2 grammars → grammars/grammars_gen.go (written) │ 1 compiled, 2 unchanged │ 1.2s", lines[0])
	assert.Equal(t, "  parser_c       2 units", lines[1])
	assert.Equal(t, "  scanner_c      1 unit  (unchanged)", lines[2])
	assert.NotContains(t, got, "\033[")

	assert.Contains(t, formatResult(res, paths, true), colorBold)
}

// =============================================================================
// Commands
// =============================================================================

func newCLIProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "grammars", "json", "src", "parser.c"), "/* json */\n")
	writeFile(t, filepath.Join(root, "grammars", "json", "queries", "highlights.scm"), "(string) @string\n")
	writeFile(t, filepath.Join(root, "grammars", "cpp", "src", "parser.c"), "/* cpp */\n")
	writeFile(t, filepath.Join(root, "grammars", "cpp", "src", "scanner.cc"), "/* cpp scanner */\n")
	writeFile(t, filepath.Join(root, ".gitmodules"),
		"[submodule \"grammars/json\"]\n\tpath = grammars/json\n\turl = https://example.com/tree-sitter-json\n")
	writeFile(t, filepath.Join(root, ".git", "modules", "grammars", "json", "refs", "heads", "master"),
		"46aa487b3ade14b7b05ef92507fdaa3915a662a3\n")
	return root
}

func TestListCommand(t *testing.T) {
	root := newCLIProject(t)
	out, err := execute(t, "", "--root", root, "--color", "never", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "cpp")
	assert.Contains(t, lines[1], "c++")
	assert.Contains(t, lines[2], "json")
	assert.Contains(t, lines[2], "highlights")
	assert.Contains(t, lines[2], "46aa487b3ade")
	assert.Contains(t, lines[2], "https://example.com/tree-sitter-json")
}

func TestConfigCommand(t *testing.T) {
	root := newCLIProject(t)
	writeFile(t, filepath.Join(root, config.FileName), "package: langs\nshared: true\n")

	out, err := execute(t, "", "--root", root, "--color", "never", "config")
	require.NoError(t, err)
	assert.Contains(t, out, config.FileName)
	assert.Contains(t, out, "Package:    langs")
	assert.Contains(t, out, "Shared:     true")
	assert.Contains(t, out, filepath.Join(root, "grammars", "grammars_gen.go"))
}

func TestCleanCommand(t *testing.T) {
	root := newCLIProject(t)
	cfg := config.Default(root)
	paths, err := cfg.Resolve()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())
	writeFile(t, filepath.Join(paths.LibDir, "libparser_c.a"), "!<arch>\n")
	writeFile(t, paths.Manifest, "{}")
	writeFile(t, paths.Output, "package grammars\n")

	store, err := bbolt.NewStore(paths.CacheDB)
	require.NoError(t, err)
	require.NoError(t, store.SaveFingerprint(paths.GrammarsDir, "parser_c", ports.Fingerprint{Digest: "d"}))
	require.NoError(t, store.SaveFingerprint("/other/grammars", "parser_c", ports.Fingerprint{Digest: "d"}))
	require.NoError(t, store.Close())

	// Declining leaves everything in place.
	out, err := execute(t, "n\n", "--root", root, "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	assert.DirExists(t, paths.LibDir)

	_, err = execute(t, "y\n", "--root", root, "clean")
	require.NoError(t, err)
	assert.NoDirExists(t, paths.LibDir)
	assert.NoFileExists(t, paths.Manifest)
	assert.FileExists(t, paths.Output, "generated files kept without --outputs")

	store, err = bbolt.NewStore(paths.CacheDB)
	require.NoError(t, err)
	defer store.Close()
	ids, err := store.Projects()
	require.NoError(t, err)
	assert.Equal(t, []string{"/other/grammars"}, ids)
}

func TestVerifyCommand_NoManifest(t *testing.T) {
	root := newCLIProject(t)
	_, err := execute(t, "", "--root", root, "verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grammargen generate --shared")
}

func TestGenerateCommand(t *testing.T) {
	for _, tool := range []string{"cc", "c++", "ar"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
	root := newCLIProject(t)

	out, err := execute(t, "", "--root", root, "--color", "never", "generate")
	require.NoError(t, err)
	assert.Contains(t, out, "⚡ 2 grammars → grammars/grammars_gen.go (written)")
	assert.FileExists(t, filepath.Join(root, "grammars", "grammars_gen.go"))
	assert.FileExists(t, filepath.Join(root, ".grammargen", "cache.db"))

	out, err = execute(t, "", "--root", root, "--color", "never", "generate")
	require.NoError(t, err)
	assert.Contains(t, out, "(up to date) │ 0 compiled, 3 unchanged")
}
