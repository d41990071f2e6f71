package workspace

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Workspace Lifecycle Tests
// =============================================================================

func TestNew_CreatesUniqueDir(t *testing.T) {
	root := t.TempDir()

	first, err := New(root, nil)
	require.NoError(t, err)
	defer first.Close()

	second, err := New(root, nil)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.Dir(), second.Dir())
	for _, ws := range []*Workspace{first, second} {
		info, err := os.Stat(ws.Dir())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestClose_RemovesDir(t *testing.T) {
	ws, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(ws.Path("payload.tar"), []byte("data"), 0o644))
	require.NoError(t, ws.Close())

	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestClose_Idempotent(t *testing.T) {
	ws, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
}

func TestPath_InsideWorkspace(t *testing.T) {
	ws, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, filepath.Join(ws.Dir(), "a.tar.gz"), ws.Path("a.tar.gz"))
}

// =============================================================================
// ArchiveDir Tests
// =============================================================================

func writeProjectTree(t *testing.T, root string) string {
	t.Helper()
	project := filepath.Join(root, "isaaclab_marl")
	require.NoError(t, os.MkdirAll(filepath.Join(project, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "train.py"), []byte("print('train')\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "scripts", "play.py"), []byte("print('play')\n"), 0o755))
	return project
}

func readArchiveEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var content []byte
		if hdr.Typeflag == tar.TypeReg {
			content, err = io.ReadAll(tr)
			require.NoError(t, err)
		}
		entries[hdr.Name] = string(content)
	}
	return entries
}

func TestArchiveDir_PreservesTopLevelName(t *testing.T) {
	project := writeProjectTree(t, t.TempDir())
	dest := filepath.Join(t.TempDir(), "isaaclab_marl_20260107.tar.gz")

	require.NoError(t, ArchiveDir(project, dest))

	entries := readArchiveEntries(t, dest)
	assert.Contains(t, entries, "isaaclab_marl/")
	assert.Contains(t, entries, "isaaclab_marl/scripts/")
	assert.Equal(t, "print('train')\n", entries["isaaclab_marl/train.py"])
	assert.Equal(t, "print('play')\n", entries["isaaclab_marl/scripts/play.py"])
}

func TestArchiveDir_MissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.tar.gz")
	err := ArchiveDir(filepath.Join(t.TempDir(), "nope"), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stat project path")
}

func TestArchiveDir_SourceIsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	err := ArchiveDir(file, filepath.Join(root, "out.tar.gz"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
