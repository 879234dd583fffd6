// Package bbolt implements ports.FingerprintStore using bbolt (embedded B+ tree).
// Each project gets its own top-level bucket. Within that bucket, a
// "fingerprints" sub-bucket maps artifact keys ("parser_c", "shared/json")
// to JSON-serialized fingerprints. Writes are transactional, so a crash
// mid-write cannot corrupt previously committed records.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corey/grammargen/internal/ports"
	bolt "go.etcd.io/bbolt"
)

var bucketFingerprints = []byte("fingerprints")

// Store implements ports.FingerprintStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ ports.FingerprintStore = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
// A second process holding the file lock makes this fail after one second
// instead of hanging.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFingerprint records the build of one artifact, replacing any earlier
// record under the same key.
func (s *Store) SaveFingerprint(projectID, key string, fp ports.Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		proj, err := tx.CreateBucketIfNotExists([]byte(projectID))
		if err != nil {
			return err
		}
		fb, err := proj.CreateBucketIfNotExists(bucketFingerprints)
		if err != nil {
			return err
		}
		return fb.Put([]byte(key), data)
	})
}

// LoadFingerprints returns every recorded fingerprint for a project.
// A fresh project yields an empty map.
func (s *Store) LoadFingerprints(projectID string) (map[string]ports.Fingerprint, error) {
	raw := make(map[string][]byte)

	err := s.db.View(func(tx *bolt.Tx) error {
		proj := tx.Bucket([]byte(projectID))
		if proj == nil {
			return nil
		}
		fb := proj.Bucket(bucketFingerprints)
		if fb == nil {
			return nil
		}
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		return fb.ForEach(func(k, v []byte) error {
			data := make([]byte, len(v))
			copy(data, v)
			raw[string(k)] = data
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	fps := make(map[string]ports.Fingerprint, len(raw))
	for k, data := range raw {
		var fp ports.Fingerprint
		if err := json.Unmarshal(data, &fp); err != nil {
			return nil, fmt.Errorf("unmarshal fingerprint %q: %w", k, err)
		}
		fps[k] = fp
	}
	return fps, nil
}

// Projects lists every project with recorded fingerprints.
func (s *Store) Projects() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			ids = append(ids, string(name))
			return nil
		})
	})
	return ids, err
}

// DeleteProject removes all fingerprints for a project.
// Idempotent: deleting a nonexistent project is not an error.
func (s *Store) DeleteProject(projectID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(projectID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
