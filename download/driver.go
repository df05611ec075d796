package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/dlfile/gate"
	"github.com/adamwoolhether/dlfile/progress"
)

// maxZeroWrites bounds how many consecutive writes may accept nothing
// without an error before the transfer gives up with io.ErrNoProgress.
const maxZeroWrites = 100

// Sink is the destination a transfer writes into. Write may accept fewer
// bytes than offered; the rest is offered again. Flush is called once,
// after the source is exhausted.
type Sink interface {
	Write(p []byte) (int, error)
	Flush() error
}

// fileSink flushes by syncing the file to stable storage.
type fileSink struct {
	f afero.File
}

func (s fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s fileSink) Flush() error                { return s.f.Sync() }

// Copy drives src into the File until src is exhausted, then syncs the
// file. size is the declared length, negative if unknown; it is only
// passed on to the progress sink. On failure the bytes already written
// stay in the file; use Reset to retry into a clean file.
func (f *File) Copy(ctx context.Context, src Source, size int64) (int64, error) {
	if f.released.Load() {
		if s, ok := src.(Stopper); ok {
			s.Stop()
		}
		return 0, fs.ErrClosed
	}

	return f.transfer().Run(ctx, fileSink{f: f.handle}, src, size)
}

// CopyFrom is Copy for a source whose errors need translating first.
func (f *File) CopyFrom(ctx context.Context, src Source, size int64, mapErr func(error) error) (int64, error) {
	return f.Copy(ctx, MapErr(src, mapErr), size)
}

// CopyReader is Copy reading from r in DefaultChunkSize chunks.
func (f *File) CopyReader(ctx context.Context, r io.Reader, size int64) (int64, error) {
	return f.Copy(ctx, FromReader(r, 0), size)
}

func (f *File) transfer() Transfer {
	return Transfer{
		Path:     f.path,
		Gate:     f.gate,
		Progress: f.progress,
		Logger:   f.logger,
		Tracer:   f.tracer,
	}
}

// Transfer describes one copy into an arbitrary Sink. File.Copy builds
// one from its own settings; it is exported for destinations that are not
// files. Every field is optional; Path is used only for reporting.
type Transfer struct {
	Path     string
	Gate     *gate.Gate
	Progress progress.Sink
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Run copies src into dst. See File.Copy. If src is a Stopper it is
// stopped before Run returns.
func (t Transfer) Run(ctx context.Context, dst Sink, src Source, size int64) (int64, error) {
	if s, ok := src.(Stopper); ok {
		defer s.Stop()
	}

	if t.Progress == nil {
		t.Progress = progress.Nop{}
	}
	if t.Logger == nil {
		t.Logger = slog.Default()
	}
	if t.Tracer == nil {
		t.Tracer = noop.NewTracerProvider().Tracer("")
	}

	id := uuid.NewString()

	ctx, span := t.Tracer.Start(ctx, "download.copy", trace.WithAttributes(
		attribute.String("download.id", id),
		attribute.String("download.path", t.Path),
		attribute.Int64("download.declared_size", size),
	))
	defer span.End()

	start := time.Now()
	t.Logger.Debug("transfer started", "id", id, "path", t.Path, "size", size)

	d := &driver{
		gate:     t.Gate,
		path:     t.Path,
		src:      src,
		sink:     dst,
		size:     size,
		progress: t.Progress,
	}

	n, err := d.run(ctx)
	span.SetAttributes(attribute.Int64("download.bytes", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.Logger.Debug("transfer failed", "id", id, "path", t.Path, "written", n, "error", err)
		return n, err
	}

	t.Logger.Debug("transfer complete", "id", id, "path", t.Path, "written", n, "since", time.Since(start).String())

	return n, nil
}

type phase int

const (
	phaseAcquiring phase = iota
	phaseAwaitingSource
	phaseDraining
	phaseFlushing
	phaseDone
)

// driver is the state of one transfer. buf holds the current chunk and is
// nil whenever it has been fully written.
type driver struct {
	phase phase

	gate   *gate.Gate
	permit *gate.Permit

	path     string
	src      Source
	sink     Sink
	size     int64
	progress progress.Sink

	buf        []byte
	off        int
	copied     int64
	zeroWrites int
}

func (d *driver) run(ctx context.Context) (int64, error) {
	defer func() { d.permit.Release() }()

	for d.phase != phaseDone {
		if err := d.step(ctx); err != nil {
			return d.copied, err
		}
	}

	return d.copied, nil
}

func (d *driver) step(ctx context.Context) error {
	switch d.phase {
	case phaseAcquiring:
		if d.gate != nil {
			p, err := d.gate.Acquire(ctx)
			if err != nil {
				return d.fail(OpAcquire, err)
			}
			d.permit = p
		}

		d.progress.Start(d.path, d.size)
		d.phase = phaseAwaitingSource

	case phaseAwaitingSource:
		if err := ctx.Err(); err != nil {
			return d.fail(OpSource, err)
		}

		chunk, err := d.src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			d.phase = phaseFlushing
		case err != nil:
			return d.fail(OpSource, err)
		case len(chunk) == 0:
			// Skip and poll again.
		default:
			d.buf, d.off = chunk, 0
			d.phase = phaseDraining
		}

	case phaseDraining:
		if err := ctx.Err(); err != nil {
			return d.fail(OpWrite, err)
		}

		remaining := d.buf[d.off:]
		n, err := d.sink.Write(remaining)
		if n < 0 || n > len(remaining) {
			return d.fail(OpWrite, fmt.Errorf("%w: %d of %d bytes", ErrInvalidWrite, n, len(remaining)))
		}

		if n > 0 {
			d.off += n
			d.copied += int64(n)
			d.zeroWrites = 0
			d.progress.Update(d.path, d.copied)
		}

		if err != nil {
			return d.fail(OpWrite, err)
		}

		if n == 0 {
			d.zeroWrites++
			if d.zeroWrites >= maxZeroWrites {
				return d.fail(OpWrite, io.ErrNoProgress)
			}
		}

		if d.off == len(d.buf) {
			d.buf, d.off = nil, 0
			d.phase = phaseAwaitingSource
		}

	case phaseFlushing:
		if err := ctx.Err(); err != nil {
			return d.fail(OpFlush, err)
		}
		if err := d.sink.Flush(); err != nil {
			return d.fail(OpFlush, err)
		}

		d.progress.Finished(d.path)
		d.phase = phaseDone
	}

	return nil
}

func (d *driver) fail(op CopyOp, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrDownloadCancelled, err)
	}

	return &CopyError{Op: op, Path: d.path, Written: d.copied, Err: err}
}
