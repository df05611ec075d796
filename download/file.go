package download

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/dlfile/gate"
	"github.com/adamwoolhether/dlfile/internal/validate"
	"github.com/adamwoolhether/dlfile/progress"
)

const filePerm fs.FileMode = 0o666

// File is an open download destination. It owns its handle until Close,
// which closes the handle and, depending on the cleanup policy, deletes
// the file. Close performs that sequence exactly once.
//
// A File is not safe for concurrent use, apart from Close.
type File struct {
	path          string
	fs            afero.Fs
	handle        afero.File
	cleanup       CleanupPolicy
	gate          *gate.Gate
	progress      progress.Sink
	onFinalizeErr FinalizeErrorFunc
	logger        *slog.Logger
	tracer        trace.Tracer

	released atomic.Bool
}

// Open opens path under policy and returns the managed File.
func Open(path string, policy OverwritePolicy, optFns ...Option) (*File, error) {
	opts := defaultOptions()
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	cfg := config{Path: path, Overwrite: policy, Cleanup: opts.cleanup}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating options: %w", err)
	}

	opts.resolve()

	handle, err := openWithPolicy(opts.fs, path, policy)
	if err != nil {
		return nil, err
	}

	return &File{
		path:          path,
		fs:            opts.fs,
		handle:        handle,
		cleanup:       opts.cleanup,
		gate:          opts.gate,
		progress:      opts.progress,
		onFinalizeErr: opts.onFinalizeErr,
		logger:        opts.logger,
		tracer:        opts.tracer,
	}, nil
}

// Using opens path, hands the File to fn and releases it when fn returns
// or panics.
func Using(path string, policy OverwritePolicy, fn func(*File) error, optFns ...Option) (err error) {
	f, err := Open(path, policy, optFns...)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, fs.ErrClosed) {
			err = errors.Join(err, fmt.Errorf("closing %s: %w", path, cerr))
		}
	}()

	return fn(f)
}

func openWithPolicy(fsys afero.Fs, path string, policy OverwritePolicy) (afero.File, error) {
	const replace = os.O_RDWR | os.O_CREATE | os.O_TRUNC

	switch policy {
	case Replace:
		return openFile(fsys, path, replace)

	case CreateExclusive:
		return openFile(fsys, path, os.O_RDWR|os.O_CREATE|os.O_EXCL)

	case ReplaceIfEmpty:
		info, err := fsys.Stat(path)
		switch {
		case err == nil && info.Size() == 0:
			return openFile(fsys, path, replace)
		case err == nil:
			return nil, &OpenError{Path: path, Size: info.Size(), Err: fs.ErrExist}
		case errors.Is(err, fs.ErrNotExist):
			return openFile(fsys, path, replace)
		default:
			return nil, &OpenError{Path: path, Size: -1, Err: err}
		}

	default:
		return nil, &OpenError{Path: path, Size: -1, Err: fmt.Errorf("unknown overwrite policy %d", policy)}
	}
}

func openFile(fsys afero.Fs, path string, flag int) (afero.File, error) {
	f, err := fsys.OpenFile(path, flag, filePerm)
	if err != nil {
		return nil, &OpenError{Path: path, Size: -1, Err: err}
	}
	return f, nil
}

// Path is the destination path the File was opened with.
func (f *File) Path() string {
	return f.path
}

// Handle exposes the underlying open file. It must not be closed directly.
func (f *File) Handle() afero.File {
	return f.handle
}

// Cleanup returns the policy that will be applied on release.
func (f *File) Cleanup() CleanupPolicy {
	return f.cleanup
}

// SetCleanup changes the policy applied on release.
func (f *File) SetCleanup(policy CleanupPolicy) {
	f.cleanup = policy
}

// Reset seeks to the start of the file and truncates it, so a failed
// transfer can be retried into the same destination. If the truncate
// fails after the seek succeeded, the offset is 0 but the old contents
// are still there.
func (f *File) Reset() error {
	if f.released.Load() {
		return fs.ErrClosed
	}

	if _, err := f.handle.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("reset %s: seeking: %w", f.path, err)
	}
	if err := f.handle.Truncate(0); err != nil {
		return fmt.Errorf("reset %s: truncating: %w", f.path, err)
	}

	return nil
}

// Close releases the File. The cleanup policy is evaluated against the
// file on disk; if it calls for deletion, the handle is closed first and
// the file removed afterwards. Failures to stat or remove the file go to
// the finalize error func, not to the caller. The returned error is the
// handle's own close error. Calling Close again returns fs.ErrClosed.
func (f *File) Close() error {
	if !f.released.CompareAndSwap(false, true) {
		return fs.ErrClosed
	}

	return f.finalize()
}

func (f *File) finalize() error {
	remove, err := f.shouldDelete()
	if err != nil {
		f.reportFinalize(FinalizeMetadata, err)
		return f.handle.Close()
	}

	if !remove {
		return f.handle.Close()
	}

	closeErr := f.handle.Close()
	if err := f.fs.Remove(f.path); err != nil {
		f.reportFinalize(FinalizeDeleting, err)
	}

	return closeErr
}

func (f *File) shouldDelete() (bool, error) {
	switch f.cleanup {
	case CleanupAlways:
		return true, nil
	case CleanupNever:
		return false, nil
	default:
		info, err := f.fs.Stat(f.path)
		if err != nil {
			return false, err
		}
		return info.Size() == 0, nil
	}
}

func (f *File) reportFinalize(kind FinalizeKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("finalize error func panicked", "path", f.path, "panic", r)
		}
	}()

	f.onFinalizeErr(f.path, &FinalizeError{Kind: kind, Path: f.path, Err: err})
}

func (f *File) String() string {
	return fmt.Sprintf("download.File{path: %q, cleanup: %s, gated: %t}", f.path, f.cleanup, f.gate != nil)
}
