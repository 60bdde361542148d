package memfs

import (
	"os"
	"testing"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInode_DentryOpsRequireLiveDirectory(t *testing.T) {
	file := newInode(2, RootInode, "f", TypeReg, 0o644, RootCred)

	requireCode(t, file.AddDentry("x", 3, TypeReg), fserrors.ErrNotDirectory)
	_, err := file.RemoveDentry("x")
	requireCode(t, err, fserrors.ErrNotDirectory)
	_, err = file.LookupDentry("x")
	requireCode(t, err, fserrors.ErrNotDirectory)

	dir := newInode(4, RootInode, "d", TypeDir, 0o755, RootCred)
	dir.removed = true
	requireCode(t, dir.AddDentry("x", 3, TypeReg), fserrors.ErrRemoved)
	_, err = dir.LookupDentry("x")
	requireCode(t, err, fserrors.ErrRemoved)
}

func TestInode_AddRemoveDentry(t *testing.T) {
	dir := newInode(2, RootInode, "d", TypeDir, 0o755, RootCred)
	assert.Equal(t, uint32(2), dir.nlink)

	require.NoError(t, dir.AddDentry("sub", 3, TypeDir))
	require.NoError(t, dir.AddDentry("file", 4, TypeReg))
	assert.Equal(t, uint32(3), dir.nlink, "only subdirectories add links")

	requireCode(t, dir.AddDentry("file", 5, TypeReg), fserrors.ErrAlreadyExists)
	requireCode(t, dir.AddDentry("", 5, TypeReg), fserrors.ErrInvalidArgument)

	d, err := dir.RemoveDentry("sub")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d.Inode)
	assert.Equal(t, uint32(2), dir.nlink)

	_, err = dir.RemoveDentry("sub")
	requireCode(t, err, fserrors.ErrNotFound)
	assert.False(t, dir.emptyLocked())
}

func TestInode_ExchangeDentry(t *testing.T) {
	a := newInode(2, RootInode, "a", TypeDir, 0o755, RootCred)
	b := newInode(3, RootInode, "b", TypeDir, 0o755, RootCred)
	require.NoError(t, a.AddDentry("x", 10, TypeDir))
	require.NoError(t, b.AddDentry("y", 11, TypeReg))

	requireCode(t, a.ExchangeDentry("", b, "y"), fserrors.ErrInvalidArgument)
	requireCode(t, a.ExchangeDentry("x", b, ""), fserrors.ErrInvalidArgument)
	requireCode(t, a.ExchangeDentry("missing", b, "y"), fserrors.ErrNotFound)

	require.NoError(t, a.ExchangeDentry("x", b, "y"))
	x, err := a.LookupDentry("x")
	require.NoError(t, err)
	y, err := b.LookupDentry("y")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), x.Inode)
	assert.Equal(t, TypeReg, x.Type)
	assert.Equal(t, uint64(10), y.Inode)
	assert.Equal(t, uint32(2), a.nlink, "a lost its subdirectory")
	assert.Equal(t, uint32(3), b.nlink, "b gained one")

	// Same directory swap keeps the link count.
	require.NoError(t, a.AddDentry("z", 12, TypeDir))
	require.NoError(t, a.ExchangeDentry("x", a, "z"))
	assert.Equal(t, uint32(3), a.nlink)
}

func TestInode_PermissionMask(t *testing.T) {
	in := newInode(2, RootInode, "f", TypeReg, 0o640, Cred{UID: 10, GID: 20})

	tests := []struct {
		name string
		cred Cred
		mask uint32
		want bool
	}{
		{"root bypasses", RootCred, PermRead | PermWrite | PermExec, true},
		{"owner read write", Cred{UID: 10, GID: 99}, PermRead | PermWrite, true},
		{"owner exec", Cred{UID: 10, GID: 99}, PermExec, false},
		{"group read", Cred{UID: 11, GID: 20}, PermRead, true},
		{"group write", Cred{UID: 11, GID: 20}, PermWrite, false},
		{"other read", Cred{UID: 12, GID: 21}, PermRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, in.CheckPermission(tt.cred, tt.mask))
		})
	}

	in.SetACL(&ACL{Entries: []ACLEntry{
		{Tag: ACLGroup, ID: 21, Perm: PermRead | PermWrite},
		{Tag: ACLOther, Perm: PermExec},
	}})
	assert.True(t, in.CheckPermission(Cred{UID: 12, GID: 21}, PermRead|PermWrite))
	assert.True(t, in.CheckPermission(Cred{UID: 13, GID: 22}, PermExec))
	assert.False(t, in.CheckPermission(Cred{UID: 13, GID: 22}, PermRead))
}

func TestOpenedFile_InitializeAndRelease(t *testing.T) {
	file := newInode(2, RootInode, "f", TypeReg, 0o644, RootCred)
	dir := newInode(3, RootInode, "d", TypeDir, 0o755, RootCred)

	var f OpenedFile
	requireCode(t, f.Release(), fserrors.ErrBadDescriptor)
	requireCode(t, f.Initialize(nil, "/f", os.O_RDONLY), fserrors.ErrInvalidArgument)
	requireCode(t, f.Initialize(dir, "/d", os.O_RDONLY), fserrors.ErrIsDirectory)

	require.NoError(t, f.Initialize(file, "/f", os.O_RDWR))
	assert.Same(t, file, f.Inode())
	requireCode(t, f.Initialize(file, "/f", os.O_RDONLY), fserrors.ErrBusy)

	_, _, writable, ok := f.snapshot()
	assert.True(t, writable)
	assert.True(t, ok)

	require.NoError(t, f.Release())
	assert.Nil(t, f.Inode())
	requireCode(t, f.Release(), fserrors.ErrBadDescriptor)
}

func TestLockInodes_OrdersAndDeduplicates(t *testing.T) {
	a := newInode(5, RootInode, "a", TypeReg, 0o644, RootCred)
	b := newInode(3, RootInode, "b", TypeReg, 0o644, RootCred)

	set := sortedInodes([]*Inode{a, nil, b, a})
	require.Len(t, set, 2)
	assert.Equal(t, uint64(3), set[0].id)
	assert.Equal(t, uint64(5), set[1].id)

	unlock := lockInodes(a, b, a)
	_, ok := tryLockInodes(b)
	assert.False(t, ok)
	unlock()

	unlock, ok = tryLockInodes(a, b)
	require.True(t, ok)
	unlock()
}
