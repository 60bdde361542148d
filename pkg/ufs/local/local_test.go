//go:build linux || darwin

package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ckptfs/pkg/ufs"
	"github.com/marmos91/ckptfs/pkg/ufs/ufstest"
)

func TestConformance(t *testing.T) {
	ufstest.RunConformanceSuite(t, func(t *testing.T) ufs.FileSystem {
		s, err := New(Config{Root: t.TempDir()})
		require.NoError(t, err)
		return s
	})
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	root := filepath.Join(t.TempDir(), "nested", "root")
	s, err := New(Config{Root: root})
	require.NoError(t, err)
	assert.Equal(t, "local:"+root, s.Name())
	assert.DirExists(t, root)

	named, err := New(Config{Name: "scratch", Root: root})
	require.NoError(t, err)
	assert.Equal(t, "scratch", named.Name())
}

func TestPathsStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, err := New(Config{Root: root})
	require.NoError(t, err)

	w, err := s.PutFile(t.Context(), "/../../escape", 0o600)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.FileExists(t, filepath.Join(root, "escape"))
}

func TestStatReportsRealInode(t *testing.T) {
	root := t.TempDir()
	s, err := New(Config{Root: root})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("abc"), 0o640))

	fi, err := s.Stat(t.Context(), "/f")
	require.NoError(t, err)

	osInfo, err := os.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Equal(t, osInfo.ModTime(), fi.ModTime)
	assert.Equal(t, os.FileMode(0o640), fi.Mode.Perm())
	assert.Equal(t, int64(3), fi.Size)
	assert.NotZero(t, fi.Inode)
}
