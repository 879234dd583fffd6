package compile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/corey/grammargen/internal/domain/grammar"
	"github.com/corey/grammargen/internal/ports"
)

// Options configures where artifacts go and which base flags every
// invocation carries.
type Options struct {
	ProjectID string // fingerprint namespace; usually the absolute grammars root
	Root      string // project root, the first include path of every job
	LibDir    string // static archives
	ObjDir    string // intermediate objects

	// SharedDir enables per-grammar shared libraries when non-empty.
	SharedDir string
	SharedExt string // ".so" or ".dylib"

	CFlags   []string // passed to every C unit unprobed
	CXXFlags []string // passed to every C++ unit unprobed
	Extra    []string // user flags, appended last to every unit

	Force bool // ignore recorded fingerprints
}

// DefaultCFlags and DefaultCXXFlags are the unprobed base flags.
var (
	DefaultCFlags   = []string{"-std=c11", "-fPIC", "-O2"}
	DefaultCXXFlags = []string{"-fPIC", "-O2"}
)

// JobResult summarizes one job after Run.
type JobResult struct {
	Kind    Kind
	Archive string
	Files   int
	Flags   []string // probed warning flags actually applied
	Skipped bool     // inputs unchanged since the recorded build
}

// Result is everything Run produced.
type Result struct {
	Jobs   []JobResult
	Shared map[string]string // grammar dir -> shared library path
}

// Orchestrator accumulates grammar sources into the three aggregate jobs and
// compiles them. It is single-use: Add during the scan, then Run once.
type Orchestrator struct {
	opts     Options
	compiler ports.Compiler
	store    ports.FingerprintStore
	log      *slog.Logger

	jobs     map[Kind]*Job
	pkgs     []*grammar.Package
	triggers []string
	srcDirs  []string
	sources  map[string]bool
	hash     *hasher
}

// NewOrchestrator creates an orchestrator with three empty jobs.
// store may be nil, in which case every job compiles on every run.
func NewOrchestrator(compiler ports.Compiler, store ports.FingerprintStore, opts Options, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.CFlags == nil {
		opts.CFlags = DefaultCFlags
	}
	if opts.CXXFlags == nil {
		opts.CXXFlags = DefaultCXXFlags
	}
	return &Orchestrator{
		opts:     opts,
		compiler: compiler,
		store:    store,
		log:      log,
		jobs: map[Kind]*Job{
			KindParser:     newJob(KindParser, ports.LangC, opts.Root, commonWarnFlags, parserWarnFlags),
			KindScannerC:   newJob(KindScannerC, ports.LangC, opts.Root, commonWarnFlags),
			KindScannerCXX: newJob(KindScannerCXX, ports.LangCXX, opts.Root, commonWarnFlags),
		},
		sources: make(map[string]bool),
		hash:    newHasher(),
	}
}

// Add feeds a grammar package into the jobs. The package's src directory
// joins every job's include path so sibling headers resolve; each present
// source file joins its job and becomes a rebuild trigger.
func (o *Orchestrator) Add(pkg *grammar.Package) {
	o.pkgs = append(o.pkgs, pkg)
	srcDir := pkg.File(grammar.SourceDir)
	o.srcDirs = append(o.srcDirs, srcDir)
	for _, k := range Kinds {
		o.jobs[k].include(srcDir)
	}

	if pkg.HasParser {
		o.addFile(KindParser, pkg, grammar.ParserFile)
	}
	if pkg.HasScannerC {
		o.addFile(KindScannerC, pkg, grammar.ScannerCFile)
	}
	if pkg.HasScannerCC {
		o.addFile(KindScannerCXX, pkg, grammar.ScannerCCFile)
	}
}

func (o *Orchestrator) addFile(k Kind, pkg *grammar.Package, rel string) {
	path := pkg.File(rel)
	o.jobs[k].add(pkg.Dir, path)
	o.sources[path] = true
	o.triggers = append(o.triggers, path)
}

// Job returns the accumulator for a kind.
func (o *Orchestrator) Job(k Kind) *Job {
	return o.jobs[k]
}

// Triggers returns every source file added to a job, in scan order.
func (o *Orchestrator) Triggers() []string {
	return append([]string(nil), o.triggers...)
}

// Run compiles each job exactly once into its archive, then links shared
// libraries if enabled. The first failure aborts the whole run; there is no
// per-grammar isolation.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	for _, dir := range []string{o.opts.LibDir, o.opts.ObjDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	stored, err := o.loadFingerprints()
	if err != nil {
		return nil, err
	}
	// Every job searches every package's src dir, so a header edit anywhere
	// invalidates all of them.
	headers, err := includedFiles(o.srcDirs, o.sources)
	if err != nil {
		return nil, err
	}

	res := &Result{Shared: make(map[string]string)}
	for _, k := range Kinds {
		jr, err := o.runJob(ctx, o.jobs[k], stored, headers)
		if err != nil {
			return nil, err
		}
		res.Jobs = append(res.Jobs, jr)
	}

	if o.opts.SharedDir != "" {
		if err := o.linkShared(ctx, stored, headers, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (o *Orchestrator) loadFingerprints() (map[string]ports.Fingerprint, error) {
	if o.store == nil || o.opts.Force {
		return map[string]ports.Fingerprint{}, nil
	}
	fps, err := o.store.LoadFingerprints(o.opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	return fps, nil
}

func (o *Orchestrator) baseFlags(lang ports.SourceLang) []string {
	if lang == ports.LangCXX {
		return o.opts.CXXFlags
	}
	return o.opts.CFlags
}

// jobSections are the non-file inputs of a job's objects. The driver and the
// candidate flags together determine which flags survive the probe.
func (o *Orchestrator) jobSections(job *Job) map[string][]string {
	return map[string][]string{
		"kind":     {string(job.Kind), string(job.Lang)},
		"driver":   o.compiler.Driver(job.Lang),
		"base":     o.baseFlags(job.Lang),
		"flags":    job.Flags,
		"extra":    o.opts.Extra,
		"includes": job.Includes,
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job *Job, stored map[string]ports.Fingerprint, headers []string) (JobResult, error) {
	archive := job.ArchivePath(o.opts.LibDir)
	jr := JobResult{Kind: job.Kind, Archive: archive, Files: len(job.Files)}

	objects := make([]string, len(job.Files))
	for i := range job.Files {
		objects[i] = job.ObjectPath(o.opts.ObjDir, i)
	}

	inputs := append(append([]string(nil), job.Files...), headers...)
	digest, err := o.hash.digest(o.jobSections(job), inputs)
	if err != nil {
		return jr, &CompileError{Job: job.Kind, Err: err}
	}

	if fp, ok := stored[string(job.Kind)]; ok && fp.Digest == digest && allExist(append(objects, archive)) {
		o.log.Debug("job unchanged", "job", job.Kind, "files", len(job.Files))
		jr.Skipped = true
		return jr, nil
	}

	var flags []string
	if len(job.Files) > 0 {
		// One capability probe per job, before the first real invocation.
		flags, err = o.compiler.SupportedFlags(ctx, job.Lang, job.Flags)
		if err != nil {
			return jr, &CompileError{Job: job.Kind, Err: fmt.Errorf("probe flags: %w", err)}
		}
		if dropped := len(job.Flags) - len(flags); dropped > 0 {
			o.log.Debug("dropped unsupported flags", "job", job.Kind, "count", dropped)
		}
	}
	jr.Flags = flags

	all := make([]string, 0, len(o.baseFlags(job.Lang))+len(flags)+len(o.opts.Extra))
	all = append(all, o.baseFlags(job.Lang)...)
	all = append(all, flags...)
	all = append(all, o.opts.Extra...)

	start := time.Now()
	for i, src := range job.Files {
		if err := os.MkdirAll(filepath.Dir(objects[i]), 0o755); err != nil {
			return jr, &CompileError{Job: job.Kind, Source: src, Err: err}
		}
		unit := ports.CompileUnit{
			Lang:     job.Lang,
			Source:   src,
			Object:   objects[i],
			Includes: job.Includes,
			Flags:    all,
		}
		if err := o.compiler.CompileObject(ctx, unit); err != nil {
			return jr, &CompileError{Job: job.Kind, Source: src, Err: err}
		}
	}
	if err := o.compiler.Archive(ctx, archive, objects); err != nil {
		return jr, &CompileError{Job: job.Kind, Err: fmt.Errorf("archive: %w", err)}
	}
	o.log.Info("compiled job", "job", job.Kind, "files", len(job.Files), "elapsed", time.Since(start).Round(time.Millisecond))

	o.saveFingerprint(string(job.Kind), ports.Fingerprint{
		Digest:   digest,
		Artifact: archive,
		Files:    job.Files,
		BuiltAt:  time.Now().Unix(),
	})
	return jr, nil
}

// linkShared links one shared library per grammar from the objects the
// jobs already produced.
func (o *Orchestrator) linkShared(ctx context.Context, stored map[string]ports.Fingerprint, headers []string, res *Result) error {
	if err := os.MkdirAll(o.opts.SharedDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", o.opts.SharedDir, err)
	}
	for _, pkg := range o.pkgs {
		if !pkg.HasParser {
			continue
		}
		var objects, files []string
		sections := map[string][]string{"kind": {"shared", o.opts.SharedExt}}
		cplusplus := false
		for _, k := range Kinds {
			job := o.jobs[k]
			for i, owner := range job.Owners {
				if owner != pkg.Dir {
					continue
				}
				objects = append(objects, job.ObjectPath(o.opts.ObjDir, i))
				files = append(files, job.Files[i])
				cplusplus = cplusplus || job.Lang == ports.LangCXX
				for name, v := range o.jobSections(job) {
					sections[string(k)+"/"+name] = v
				}
			}
		}
		link := ports.LangC
		if cplusplus {
			link = ports.LangCXX
		}
		sections["link"] = o.compiler.Driver(link)

		out := filepath.Join(o.opts.SharedDir, pkg.Dir+o.opts.SharedExt)
		key := "shared/" + pkg.Dir
		digest, err := o.hash.digest(sections, append(append([]string(nil), files...), headers...))
		if err != nil {
			return &CompileError{Job: Kind(key), Err: err}
		}
		res.Shared[pkg.Dir] = out

		if fp, ok := stored[key]; ok && fp.Digest == digest && allExist([]string{out}) {
			continue
		}
		if err := o.compiler.LinkShared(ctx, out, objects, cplusplus); err != nil {
			return &CompileError{Job: Kind(key), Err: fmt.Errorf("link: %w", err)}
		}
		o.log.Debug("linked shared library", "grammar", pkg.Dir, "path", out)
		o.saveFingerprint(key, ports.Fingerprint{
			Digest:   digest,
			Artifact: out,
			Files:    files,
			BuiltAt:  time.Now().Unix(),
		})
	}
	return nil
}

// saveFingerprint records a build. A store failure only costs a rebuild
// next time, so it is logged rather than returned.
func (o *Orchestrator) saveFingerprint(key string, fp ports.Fingerprint) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveFingerprint(o.opts.ProjectID, key, fp); err != nil {
		o.log.Warn("could not record fingerprint", "artifact", key, "err", err)
	}
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
