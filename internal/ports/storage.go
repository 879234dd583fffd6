// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

// FingerprintStore persists the input fingerprint of every compiled artifact
// so an unchanged compilation job can be skipped on the next run.
// The backing store (bbolt) is project-scoped: each projectID (the absolute
// grammars root) gets its own namespace.
//
// Losing the store is never a correctness problem: an empty store means every
// job compiles again.
type FingerprintStore interface {
	// LoadFingerprints returns every recorded fingerprint for a project,
	// keyed by artifact name ("parser_c", "shared/tiny-lang", ...).
	// Returns an empty map if nothing was recorded (fresh project).
	LoadFingerprints(projectID string) (map[string]Fingerprint, error)

	// SaveFingerprint records the fingerprint of one freshly built artifact.
	// Overwrites any prior value for the same key.
	SaveFingerprint(projectID string, key string, fp Fingerprint) error

	// DeleteProject removes all fingerprints for a project.
	// Idempotent: deleting a nonexistent project is not an error.
	DeleteProject(projectID string) error
}

// Fingerprint identifies the exact inputs an artifact was built from.
type Fingerprint struct {
	Digest   string   `json:"digest"`   // hex SHA-256 over driver, flags, includes, sources and headers
	Artifact string   `json:"artifact"` // path of the produced archive or shared library
	Files    []string `json:"files"`    // source files that went into the artifact
	BuiltAt  int64    `json:"built_at"` // unix seconds
}
