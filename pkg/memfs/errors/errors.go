// Package errors provides the error type and error codes shared by the memfs
// namespace, the block memory manager and the backup pipeline.
//
// It is a leaf package so that bmm, memfs, ufs and backup can all import it
// without cycles.
//
// Import graph: errors <- bmm <- memfs <- backup
package errors

import (
	stderrors "errors"
	"fmt"
	"syscall"
)

// MaxPathLen is the exclusive upper bound on path length accepted by every
// path-taking API. A path of MaxPathLen bytes or more is rejected.
const MaxPathLen = 4096

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested file or directory does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates the name is already taken.
	ErrAlreadyExists

	// ErrNotDirectory indicates an operation requires a directory.
	ErrNotDirectory

	// ErrIsDirectory indicates an operation is not valid on a directory.
	ErrIsDirectory

	// ErrPermissionDenied indicates mode bits or ACL forbid the access.
	ErrPermissionDenied

	// ErrBusy indicates the inode already has an exclusive writer, or a
	// resource is held by someone else.
	ErrBusy

	// ErrNoSpace indicates the block pool cannot satisfy an allocation.
	ErrNoSpace

	// ErrTooManyOpenFiles indicates the descriptor table is exhausted.
	ErrTooManyOpenFiles

	// ErrNameTooLong indicates a path at or above MaxPathLen.
	ErrNameTooLong

	// ErrInvalidArgument indicates an invalid argument or configuration.
	ErrInvalidArgument

	// ErrRemoved indicates the inode has been tombstoned.
	ErrRemoved

	// ErrNotInitialized indicates the component was never initialized or
	// has been destroyed.
	ErrNotInitialized

	// ErrNotEmpty indicates a directory still has entries.
	ErrNotEmpty

	// ErrIOError indicates an I/O error against an underlying store.
	ErrIOError

	// ErrStale indicates the request refers to a superseded generation or
	// an inode that has since been replaced.
	ErrStale

	// ErrBadDescriptor indicates an fd that is not open.
	ErrBadDescriptor
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrBusy:
		return "Busy"
	case ErrNoSpace:
		return "NoSpace"
	case ErrTooManyOpenFiles:
		return "TooManyOpenFiles"
	case ErrNameTooLong:
		return "NameTooLong"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrRemoved:
		return "Removed"
	case ErrNotInitialized:
		return "NotInitialized"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrIOError:
		return "IOError"
	case ErrStale:
		return "Stale"
	case ErrBadDescriptor:
		return "BadDescriptor"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// Errno maps the code to the OS error number a syscall-shaped caller expects.
func (e ErrorCode) Errno() syscall.Errno {
	switch e {
	case ErrNotFound:
		return syscall.ENOENT
	case ErrAlreadyExists:
		return syscall.EEXIST
	case ErrNotDirectory:
		return syscall.ENOTDIR
	case ErrIsDirectory:
		return syscall.EISDIR
	case ErrPermissionDenied:
		return syscall.EACCES
	case ErrBusy:
		return syscall.EBUSY
	case ErrNoSpace:
		return syscall.ENOSPC
	case ErrTooManyOpenFiles:
		return syscall.EMFILE
	case ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case ErrRemoved, ErrStale:
		return syscall.ESTALE
	case ErrNotEmpty:
		return syscall.ENOTEMPTY
	case ErrBadDescriptor:
		return syscall.EBADF
	case ErrIOError:
		return syscall.EIO
	default:
		return syscall.EINVAL
	}
}

// Error is a memfs error with an error code.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
	// Cause is the underlying error, if any (for example an os.PathError
	// returned by a UFS backend).
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path: %s)", e.Code, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, so errors.Is(err, &Error{Code: ErrNotFound})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Errno returns the OS-style error indicator.
func (e *Error) Errno() syscall.Errno {
	return e.Code.Errno()
}

// ============================================================================
// Factory Functions
// ============================================================================

// New creates an error with an arbitrary code.
func New(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}

// Wrap creates an error with a code and an underlying cause.
func Wrap(code ErrorCode, path string, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Path: path, Cause: cause}
}

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(path, resourceType string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resourceType),
		Path:    path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(path string) *Error {
	return &Error{Code: ErrAlreadyExists, Message: "already exists", Path: path}
}

// NewNotDirectoryError creates a NotDirectory error.
func NewNotDirectoryError(path string) *Error {
	return &Error{Code: ErrNotDirectory, Message: "not a directory", Path: path}
}

// NewIsDirectoryError creates an IsDirectory error.
func NewIsDirectoryError(path string) *Error {
	return &Error{Code: ErrIsDirectory, Message: "is a directory", Path: path}
}

// NewPermissionDeniedError creates a PermissionDenied error.
func NewPermissionDeniedError(path string) *Error {
	return &Error{Code: ErrPermissionDenied, Message: "permission denied", Path: path}
}

// NewBusyError creates a Busy error.
func NewBusyError(path, reason string) *Error {
	return &Error{Code: ErrBusy, Message: reason, Path: path}
}

// NewNoSpaceError creates a NoSpace error for a failed block allocation.
func NewNoSpaceError(requested, free uint64) *Error {
	return &Error{
		Code:    ErrNoSpace,
		Message: fmt.Sprintf("need %d blocks, %d free", requested, free),
	}
}

// NewNameTooLongError creates a NameTooLong error.
func NewNameTooLongError(path string) *Error {
	return &Error{
		Code:    ErrNameTooLong,
		Message: fmt.Sprintf("path length %d exceeds limit %d", len(path), MaxPathLen-1),
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(path, message string) *Error {
	return &Error{Code: ErrInvalidArgument, Message: message, Path: path}
}

// NewRemovedError creates a Removed error.
func NewRemovedError(path string) *Error {
	return &Error{Code: ErrRemoved, Message: "inode has been removed", Path: path}
}

// NewNotInitializedError creates a NotInitialized error.
func NewNotInitializedError(component string) *Error {
	return &Error{Code: ErrNotInitialized, Message: component + " not initialized"}
}

// NewStaleError creates a Stale error.
func NewStaleError(path, reason string) *Error {
	return &Error{Code: ErrStale, Message: reason, Path: path}
}

// NewIOError wraps an I/O failure from an underlying store.
func NewIOError(path string, cause error) *Error {
	return &Error{Code: ErrIOError, Message: "i/o error", Path: path, Cause: cause}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the code carried by err, or 0 if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// ErrnoOf returns the OS error number for err. Errors that carry a
// syscall.Errno directly (os.PathError from a UFS call) keep their own value.
func ErrnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Errno()
	}
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

// IsNotFoundError returns true if the error is a NotFound error.
func IsNotFoundError(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsAlreadyExistsError returns true if the error is an AlreadyExists error.
func IsAlreadyExistsError(err error) bool {
	return CodeOf(err) == ErrAlreadyExists
}

// IsNoSpaceError returns true if the block pool is exhausted.
func IsNoSpaceError(err error) bool {
	return CodeOf(err) == ErrNoSpace
}

// IsBusyError returns true if the error is a Busy error.
func IsBusyError(err error) bool {
	return CodeOf(err) == ErrBusy
}

// IsStaleError returns true if the error reports a superseded request.
func IsStaleError(err error) bool {
	return CodeOf(err) == ErrStale
}

// CheckPath rejects paths at or above MaxPathLen.
func CheckPath(path string) error {
	if len(path) >= MaxPathLen {
		return NewNameTooLongError(path)
	}
	return nil
}
