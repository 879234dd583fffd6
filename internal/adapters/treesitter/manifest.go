package treesitter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ManifestVersion is bumped when the manifest layout changes incompatibly.
const ManifestVersion = 1

// GrammarInfo describes one generated grammar binding.
type GrammarInfo struct {
	Name     string   `json:"name"` // grammar directory
	Module   string   `json:"module"`
	GoName   string   `json:"go_name"`
	Symbol   string   `json:"symbol"`
	RepoURL  string   `json:"repo_url,omitempty"`
	Revision string   `json:"revision,omitempty"`
	Scanner  string   `json:"scanner,omitempty"` // "c", "c++" or empty
	Queries  []string `json:"queries,omitempty"`
	SHA256   string   `json:"sha256"` // of src/parser.c

	// Shared library, only when shared linking is enabled.
	Library       string `json:"library,omitempty"`
	LibrarySHA256 string `json:"library_sha256,omitempty"`
}

// ArchiveInfo describes one aggregate static archive.
type ArchiveInfo struct {
	Kind   string   `json:"kind"`
	Path   string   `json:"path"`
	Flags  []string `json:"flags,omitempty"`
	Units  int      `json:"units"`
	SHA256 string   `json:"sha256"`
}

// Manifest records what one generator run produced. Paths are relative to
// the project root so the file is stable across checkouts.
type Manifest struct {
	Version  int                    `json:"version"`
	Platform string                 `json:"platform"`
	Output   string                 `json:"output"`
	Archives []ArchiveInfo          `json:"archives"`
	Grammars map[string]GrammarInfo `json:"grammars"`
}

// NewManifest returns an empty manifest for the current platform.
func NewManifest(output string) *Manifest {
	return &Manifest{
		Version:  ManifestVersion,
		Platform: PlatformString(),
		Output:   output,
		Grammars: make(map[string]GrammarInfo),
	}
}

// LoadManifest reads a manifest from a JSON file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("manifest version %d, want %d", m.Version, ManifestVersion)
	}
	return &m, nil
}

// Write stores the manifest as indented JSON, replacing path atomically.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

// Names returns grammar names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Grammars))
	for name := range m.Grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileSHA256 returns the hex SHA-256 of a file.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
