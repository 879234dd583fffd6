package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRef(t *testing.T, gitDir, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(ModuleDir(gitDir, dir), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveRevision_Master(t *testing.T) {
	gitDir := t.TempDir()
	writeRef(t, gitDir, "foo", "refs/heads/master", "  0123abcd\nignored\n")
	writeRef(t, gitDir, "foo", "refs/heads/main", "ffff\n")

	rev, ok, err := ResolveRevision(gitDir, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0123abcd", rev)
}

func TestResolveRevision_MainFallback(t *testing.T) {
	gitDir := t.TempDir()
	writeRef(t, gitDir, "foo", "refs/heads/main", "beefcafe\n")

	rev, ok, err := ResolveRevision(gitDir, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "beefcafe", rev)
}

func TestResolveRevision_NoRefIsNotAnError(t *testing.T) {
	rev, ok, err := ResolveRevision(t.TempDir(), "tiny-lang")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rev)
}

func TestResolveRevision_PackedRefs(t *testing.T) {
	gitDir := t.TempDir()
	writeRef(t, gitDir, "foo", "packed-refs",
		"# pack-refs with: peeled fully-peeled sorted\n"+
			"1111 refs/heads/feature\n"+
			"2222 refs/heads/main\n"+
			"^3333\n"+
			"4444 refs/tags/v1.0\n")

	rev, ok, err := ResolveRevision(gitDir, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2222", rev)
}

func TestResolveRevision_LooseRefBeatsPacked(t *testing.T) {
	gitDir := t.TempDir()
	writeRef(t, gitDir, "foo", "packed-refs", "2222 refs/heads/master\n")
	writeRef(t, gitDir, "foo", "refs/heads/main", "9999\n")

	rev, ok, err := ResolveRevision(gitDir, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9999", rev)
}

func TestRefPaths_Order(t *testing.T) {
	paths := RefPaths("/p/.git", "foo")
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join("/p/.git", "modules", "grammars", "foo", "refs", "heads", "master"), paths[0])
	assert.Equal(t, filepath.Join("/p/.git", "modules", "grammars", "foo", "refs", "heads", "main"), paths[1])
}
