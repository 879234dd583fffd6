// Package compile orchestrates native compilation of grammar sources.
//
// Every discovered grammar feeds up to three aggregate jobs: parser units,
// C scanner units and C++ scanner units. A job only accumulates during the
// scan and is compiled exactly once afterwards into one static archive that
// the generated cgo bindings link against.
package compile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/corey/grammargen/internal/ports"
)

// Kind names an aggregate job. The value doubles as the archive link name
// (-l<kind>).
type Kind string

const (
	KindParser     Kind = "parser_c"
	KindScannerC   Kind = "scanner_c"
	KindScannerCXX Kind = "scanner_cpp"
)

// Kinds lists the jobs in link order: parsers reference scanner symbols,
// so scanner archives must come after them on the linker command line.
var Kinds = []Kind{KindParser, KindScannerC, KindScannerCXX}

// Warning suppressions requested for every job. They go through the
// toolchain probe; unsupported flags are dropped.
var (
	commonWarnFlags = []string{"-Wno-unused-parameter", "-Wno-unused-but-set-variable"}
	parserWarnFlags = []string{"-Wno-trigraphs"}
)

// Job is one aggregate compilation unit. Files, Owners and Includes are
// append-only while the scan runs.
type Job struct {
	Kind     Kind
	Lang     ports.SourceLang
	Files    []string // absolute source paths
	Owners   []string // grammar directory of Files[i]
	Includes []string
	Flags    []string // candidate flags, filtered by the probe before use
}

func newJob(kind Kind, lang ports.SourceLang, root string, flags ...[]string) *Job {
	j := &Job{Kind: kind, Lang: lang}
	if root != "" {
		j.Includes = append(j.Includes, root)
	}
	for _, f := range flags {
		j.Flags = append(j.Flags, f...)
	}
	return j
}

func (j *Job) add(owner, file string) {
	j.Files = append(j.Files, file)
	j.Owners = append(j.Owners, owner)
}

func (j *Job) include(dir string) {
	j.Includes = append(j.Includes, dir)
}

// ArchivePath returns where the job's static archive is written.
func (j *Job) ArchivePath(libDir string) string {
	return filepath.Join(libDir, "lib"+string(j.Kind)+".a")
}

// ObjectPath returns the object file for the i-th source of the job.
// Grammar directory names are unique, so one object per owner per job
// never collides.
func (j *Job) ObjectPath(objDir string, i int) string {
	return filepath.Join(objDir, string(j.Kind), j.Owners[i]+".o")
}

// ErrCompile marks every native build failure so callers can test with
// errors.Is without caring which step failed.
var ErrCompile = errors.New("native compilation failed")

// CompileError reports the job and source file a toolchain failure belongs to.
type CompileError struct {
	Job    Kind
	Source string // empty for archive or link failures
	Err    error
}

func (e *CompileError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", e.Job, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Job, e.Source, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

func (e *CompileError) Is(target error) bool { return target == ErrCompile }
