package ports

import "context"

// SourceLang selects the compiler driver for a translation unit.
type SourceLang string

const (
	LangC   SourceLang = "c"
	LangCXX SourceLang = "c++"
)

// Compiler drives the native toolchain. The concrete implementation (cc)
// lives in internal/adapters/cc and shells out to the system compiler,
// archiver and linker.
//
// Every method blocks until the child process exits; cancelling ctx kills it.
type Compiler interface {
	// SupportedFlags returns the subset of flags the toolchain accepts for
	// lang, preserving order. Unsupported flags are dropped, not reported.
	SupportedFlags(ctx context.Context, lang SourceLang, flags []string) ([]string, error)

	// Driver returns the program and leading arguments that compile lang
	// sources. Build fingerprints include it so switching compilers rebuilds.
	Driver(lang SourceLang) []string

	// CompileObject compiles one source file into one object file.
	CompileObject(ctx context.Context, unit CompileUnit) error

	// Archive bundles objects into a static archive at path, replacing any
	// existing archive.
	Archive(ctx context.Context, path string, objects []string) error

	// LinkShared links objects into a shared library at path.
	LinkShared(ctx context.Context, path string, objects []string, cplusplus bool) error
}

// CompileUnit is a single compiler invocation.
type CompileUnit struct {
	Lang     SourceLang
	Source   string
	Object   string
	Includes []string
	Flags    []string
}
