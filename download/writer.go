package download

import (
	"io/fs"
)

// Writer is an io.WriteCloser over a File that reports progress as bytes
// are written. Start is reported when the Writer is created, not at the
// first write.
type Writer struct {
	file     *File
	written  int64
	finished bool
}

// OpenWriter opens path like Open and wraps the result in a Writer,
// reporting size as the declared total.
func OpenWriter(path string, policy OverwritePolicy, size int64, optFns ...Option) (*Writer, error) {
	f, err := Open(path, policy, optFns...)
	if err != nil {
		return nil, err
	}

	return f.Writer(size), nil
}

// Writer converts the File into a Writer. The Writer takes over the File;
// closing the Writer releases it. A Writer over a released File reports
// no progress and fails every call with fs.ErrClosed.
func (f *File) Writer(size int64) *Writer {
	if !f.released.Load() {
		f.progress.Start(f.path, size)
	}

	return &Writer{file: f}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.file.released.Load() {
		return 0, fs.ErrClosed
	}

	n, err := w.file.handle.Write(p)
	if n > 0 {
		w.written += int64(n)
		w.file.progress.Update(w.file.path, w.written)
	}

	return n, err
}

// Written is the number of bytes accepted so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Flush syncs the file.
func (w *Writer) Flush() error {
	if w.file.released.Load() {
		return fs.ErrClosed
	}

	return w.file.handle.Sync()
}

// Shutdown flushes and, on success, reports the transfer as finished.
// Finished is reported once no matter how often Shutdown is called.
func (w *Writer) Shutdown() error {
	if err := w.Flush(); err != nil {
		return err
	}

	if !w.finished {
		w.finished = true
		w.file.progress.Finished(w.file.path)
	}

	return nil
}

// File returns the underlying File.
func (w *Writer) File() *File {
	return w.file
}

// Close releases the underlying File without flushing. Call Shutdown
// first to report completion.
func (w *Writer) Close() error {
	return w.file.Close()
}
