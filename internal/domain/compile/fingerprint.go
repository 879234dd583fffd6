package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// hasher computes content digests, reading each file at most once per pass.
type hasher struct {
	files map[string]string
}

func newHasher() *hasher {
	return &hasher{files: make(map[string]string)}
}

// file returns the hex SHA-256 of a file's contents.
func (h *hasher) file(path string) (string, error) {
	if sum, ok := h.files[path]; ok {
		return sum, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	s := sha256.New()
	if _, err := io.Copy(s, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	sum := hex.EncodeToString(s.Sum(nil))
	h.files[path] = sum
	return sum, nil
}

// digest folds labelled string lists and file contents into one hex SHA-256.
// Section labels keep ("a","b") and ("ab") from hashing the same.
func (h *hasher) digest(sections map[string][]string, files []string) (string, error) {
	s := sha256.New()
	for _, key := range sortedKeys(sections) {
		fmt.Fprintf(s, "%s=%s\x00", key, strings.Join(sections[key], "\x1f"))
	}
	for _, f := range files {
		sum, err := h.file(f)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(s, "file=%s:%s\x00", f, sum)
	}
	return hex.EncodeToString(s.Sum(nil)), nil
}

// includedFiles lists every regular file under dirs that a translation unit
// may #include: everything except the compiled sources themselves and JSON
// metadata. Missing dirs are skipped. Order is deterministic.
func includedFiles(dirs []string, sources map[string]bool) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.Type().IsRegular() || sources[path] || filepath.Ext(path) == ".json" {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list headers in %s: %w", dir, err)
		}
	}
	return files, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
