package memfs

// FileOpNotify consumes namespace events. It is registered once per
// FileSystem. A non-nil return fails the operation that raised the event and
// the operation is rolled back.
type FileOpNotify interface {
	// OpenFileNotify is raised after a descriptor has been allocated.
	OpenFileNotify(fd int, path string, flags int, inode uint64) error
	// NewFileNotify is raised after a new name has been linked to a file.
	NewFileNotify(path string, inode uint64) error
}

// CloseNotifier is optionally implemented by a FileOpNotify that wants to
// know when a writable descriptor is closed. Errors are logged, not
// returned, because the descriptor is already gone.
type CloseNotifier interface {
	CloseFileNotify(fd int, path string, inode uint64) error
}
