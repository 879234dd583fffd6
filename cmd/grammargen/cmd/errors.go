package cmd

import "strings"

// isDBLockError returns true if the error chain contains a bbolt lock timeout.
// bbolt returns the string "timeout" when it cannot acquire the file lock
// within the configured deadline.
func isDBLockError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "timeout")
}

// diagnoseDBLock returns guidance when the fingerprint cache is held by
// another process, usually a running `grammargen watch`.
func diagnoseDBLock() string {
	return "fingerprint cache is locked by another grammargen process\n" +
		"  → a `grammargen watch` may be running:  ps aux | grep grammargen\n" +
		"  → stop it, or point GRAMMARGEN_CACHE_DB at another file\n" +
		"  → then retry your command"
}
