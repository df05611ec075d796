package download

import (
	"bytes"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

var errInjected = errors.New("injected failure")

// faultFs wraps an afero.Fs, records the finalize-relevant operations and
// fails the ones a test asks it to.
type faultFs struct {
	afero.Fs

	mu          sync.Mutex
	ops         []string
	statErr     error
	removeErr   error
	seekErr     error
	truncateErr error
	syncErr     error
}

func newFaultFs() *faultFs {
	return &faultFs{Fs: afero.NewMemMapFs()}
}

func (f *faultFs) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *faultFs) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ops)
}

func (f *faultFs) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *faultFs) Stat(name string) (os.FileInfo, error) {
	f.record("stat")
	if f.statErr != nil {
		return nil, f.statErr
	}
	return f.Fs.Stat(name)
}

func (f *faultFs) Remove(name string) error {
	f.record("remove")
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Fs.Remove(name)
}

type faultFile struct {
	afero.File
	fs *faultFs
}

func (f *faultFile) Close() error {
	f.fs.record("close")
	return f.File.Close()
}

func (f *faultFile) Seek(offset int64, whence int) (int64, error) {
	if f.fs.seekErr != nil {
		return 0, f.fs.seekErr
	}
	return f.File.Seek(offset, whence)
}

func (f *faultFile) Truncate(size int64) error {
	if f.fs.truncateErr != nil {
		return f.fs.truncateErr
	}
	return f.File.Truncate(size)
}

func (f *faultFile) Sync() error {
	if f.fs.syncErr != nil {
		return f.fs.syncErr
	}
	return f.File.Sync()
}

type event struct {
	Kind  string
	Path  string
	Value int64
}

// recorder is a progress.Sink that keeps every call.
type recorder struct {
	events []event
}

func (r *recorder) Start(path string, total int64) {
	r.events = append(r.events, event{"start", path, total})
}

func (r *recorder) Update(path string, written int64) {
	r.events = append(r.events, event{"update", path, written})
}

func (r *recorder) Finished(path string) {
	r.events = append(r.events, event{"finished", path, 0})
}

func (r *recorder) count(kind string) int {
	var n int
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// finalizeLog collects finalize errors.
type finalizeLog struct {
	mu   sync.Mutex
	errs []*FinalizeError
}

func (l *finalizeLog) fn(path string, err *FinalizeError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func readFile(t *testing.T, fsys afero.Fs, path string) []byte {
	t.Helper()
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return b
}

func exists(t *testing.T, fsys afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fsys, path)
	if err != nil {
		t.Fatalf("checking %s: %v", path, err)
	}
	return ok
}

// captureDiagnostics redirects the default finalize error output.
func captureDiagnostics(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := diagnostics
	diagnostics = &buf
	t.Cleanup(func() { diagnostics = prev })
	return &buf
}
