package download

import (
	"errors"
	"fmt"
)

var (
	ErrDownloadCancelled = errors.New("download cancelled")
	ErrGroupShutdown     = errors.New("download queue shut down")
	ErrInvalidWrite      = errors.New("invalid write result")
)

// OpenError reports a failure to open the destination. When the failure is
// an existing file the policy refused to replace, Err matches fs.ErrExist
// and Size holds the observed length, or -1 if it was not read.
type OpenError struct {
	Path string
	Size int64
	Err  error
}

func (e *OpenError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("non-empty (%d bytes) file %q already exists: %v", e.Size, e.Path, e.Err)
	}
	return fmt.Sprintf("opening %q: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// CopyOp names the step of a transfer that failed.
type CopyOp string

const (
	OpAcquire CopyOp = "acquire"
	OpSource  CopyOp = "source"
	OpWrite   CopyOp = "write"
	OpFlush   CopyOp = "flush"
)

// CopyError is returned by a failed transfer. Written is the number of
// bytes committed to the destination before the failure; they are left in
// place.
type CopyError struct {
	Op      CopyOp
	Path    string
	Written int64
	Err     error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s: %s after %d bytes: %v", e.Path, e.Op, e.Written, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// FinalizeKind tells which step of releasing a File went wrong.
type FinalizeKind int

const (
	// FinalizeMetadata means the cleanup policy could not be evaluated
	// because the file could not be stat'ed. Nothing was deleted.
	FinalizeMetadata FinalizeKind = iota + 1
	// FinalizeDeleting means the handle was closed but removing the file
	// failed.
	FinalizeDeleting
)

func (k FinalizeKind) String() string {
	switch k {
	case FinalizeMetadata:
		return "metadata"
	case FinalizeDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// FinalizeError is handed to the FinalizeErrorFunc of a File when its
// release could not complete cleanly. It is never returned to the caller.
type FinalizeError struct {
	Kind FinalizeKind
	Path string
	Err  error
}

func (e *FinalizeError) Error() string {
	switch e.Kind {
	case FinalizeMetadata:
		return fmt.Sprintf("%s: error getting file metadata on release: %v", e.Path, e.Err)
	case FinalizeDeleting:
		return fmt.Sprintf("%s: error deleting file on release: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: error releasing file: %v", e.Path, e.Err)
	}
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

// FinalizeErrorFunc receives finalize failures. It runs synchronously
// inside File.Close and must return promptly.
type FinalizeErrorFunc func(path string, err *FinalizeError)
