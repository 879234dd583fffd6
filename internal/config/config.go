// Package config resolves generator settings from defaults, the project's
// grammargen.yaml, environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the optional per-project config file, read from the root.
const FileName = "grammargen.yaml"

// Config holds every generator setting. Relative paths are resolved
// against Root by Resolve.
type Config struct {
	Root string `yaml:"-"`

	GrammarsDir     string `yaml:"grammars"`
	OutDir          string `yaml:"out_dir"` // archives, objects, cache, manifest
	Output          string `yaml:"output"`  // file name inside GrammarsDir
	HighlightOutput string `yaml:"highlight_output"`
	Package         string `yaml:"package"`
	HighlightImport string `yaml:"highlight_import"` // runtime the highlight file imports; empty for the built-in one
	GitDir          string `yaml:"git_dir"`
	Registry        string `yaml:"registry"`
	CacheDB         string `yaml:"cache_db"`

	CC     string   `yaml:"cc"`
	CXX    string   `yaml:"cxx"`
	AR     string   `yaml:"ar"`
	CFlags []string `yaml:"cflags"` // appended to every compiler invocation

	Shared bool `yaml:"shared"`
	Force  bool `yaml:"force"`
}

// Default returns the built-in settings for a project root.
func Default(root string) *Config {
	return &Config{
		Root:            root,
		GrammarsDir:     "grammars",
		OutDir:          ".grammargen",
		Output:          "grammars_gen.go",
		HighlightOutput: "grammars_highlight_gen.go",
		Package:         "grammars",
		GitDir:          ".git",
		Registry:        ".gitmodules",
	}
}

// Load builds the config for root: defaults, then the config file when
// present, then the environment. getenv is usually os.Getenv.
func Load(root string, getenv func(string) string) (*Config, error) {
	c := Default(root)
	if err := c.loadFile(filepath.Join(root, FileName)); err != nil {
		return nil, err
	}
	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Environment variables consulted by Load. CC, CXX and AR follow the usual
// toolchain convention and carry no prefix.
const (
	EnvGrammars = "GRAMMARGEN_GRAMMARS"
	EnvOutDir   = "GRAMMARGEN_OUT_DIR"
	EnvOutput   = "GRAMMARGEN_OUTPUT"
	EnvPackage  = "GRAMMARGEN_PACKAGE"
	EnvCacheDB  = "GRAMMARGEN_CACHE_DB"
	EnvCFlags   = "GRAMMARGEN_CFLAGS"
	EnvShared   = "GRAMMARGEN_SHARED"
	EnvCC       = "CC"
	EnvCXX      = "CXX"
	EnvAR       = "AR"
)

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvGrammars, &c.GrammarsDir},
		{EnvOutDir, &c.OutDir},
		{EnvOutput, &c.Output},
		{EnvPackage, &c.Package},
		{EnvCacheDB, &c.CacheDB},
		{EnvCC, &c.CC},
		{EnvCXX, &c.CXX},
		{EnvAR, &c.AR},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}
	if v := getenv(EnvCFlags); v != "" {
		c.CFlags = strings.Fields(v)
	}
	if v := getenv(EnvShared); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvShared, err)
		}
		c.Shared = b
	}
	return nil
}

// Validate reports settings that would produce unusable output.
func (c *Config) Validate() error {
	if !token.IsIdentifier(c.Package) {
		return fmt.Errorf("package %q is not a valid Go identifier", c.Package)
	}
	for _, name := range []string{c.Output, c.HighlightOutput} {
		if filepath.Base(name) != name || !strings.HasSuffix(name, ".go") {
			return fmt.Errorf("output %q must be a .go file name without directories", name)
		}
	}
	if c.Output == c.HighlightOutput {
		return fmt.Errorf("output and highlight output are both %q", c.Output)
	}
	return nil
}

// Paths holds every resolved filesystem location the generator touches.
type Paths struct {
	Root        string
	GrammarsDir string
	GitDir      string
	Registry    string

	OutDir    string // .grammargen/
	LibDir    string // .grammargen/lib/
	ObjDir    string // .grammargen/obj/
	SharedDir string // .grammargen/grammars/
	CacheDB   string // .grammargen/cache.db
	Manifest  string // .grammargen/grammars.json

	Output          string // grammars/grammars_gen.go
	HighlightOutput string // grammars/grammars_highlight_gen.go
	Depfile         string // grammars/grammars_gen.go.d
}

// Resolve computes absolute paths from the config.
func (c *Config) Resolve() (*Paths, error) {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}

	grammars := abs(c.GrammarsDir)
	out := abs(c.OutDir)
	p := &Paths{
		Root:        root,
		GrammarsDir: grammars,
		GitDir:      abs(c.GitDir),
		Registry:    abs(c.Registry),

		OutDir:    out,
		LibDir:    filepath.Join(out, "lib"),
		ObjDir:    filepath.Join(out, "obj"),
		SharedDir: filepath.Join(out, "grammars"),
		CacheDB:   filepath.Join(out, "cache.db"),
		Manifest:  filepath.Join(out, "grammars.json"),

		Output:          filepath.Join(grammars, c.Output),
		HighlightOutput: filepath.Join(grammars, c.HighlightOutput),
	}
	if c.CacheDB != "" {
		p.CacheDB = abs(c.CacheDB)
	}
	p.Depfile = p.Output + ".d"
	return p, nil
}

// EnsureDirs creates the artifact directories. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.OutDir, p.LibDir, p.ObjDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
