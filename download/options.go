package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/dlfile/gate"
	"github.com/adamwoolhether/dlfile/progress"
)

// diagnostics receives the default finalize error line when no logger was
// configured.
var diagnostics io.Writer = os.Stderr

// Option defines optional settings for opening a File.
//
// WithGate makes every transfer into the File hold a permit from g.
//
// WithCleanup sets the policy applied on release. The default deletes
// the file only if it is still empty.
//
// WithProgress attaches a progress.Sink that observes transfers.
//
// WithFinalizeErrorFunc replaces the default finalize error report, which
// writes one line to stderr, or logs through the logger set by WithLogger.
type Option func(*options) error

type options struct {
	fs            afero.Fs
	gate          *gate.Gate
	cleanup       CleanupPolicy
	progress      progress.Sink
	onFinalizeErr FinalizeErrorFunc
	logger        *slog.Logger
	finalizeLevel slog.Level
	tracer        trace.Tracer
}

// config is the validated view of the options for one Open call.
type config struct {
	Path      string          `name:"path" validate:"required"`
	Overwrite OverwritePolicy `name:"overwrite" validate:"min=0,max=2"`
	Cleanup   CleanupPolicy   `name:"cleanup" validate:"min=0,max=2"`
}

func defaultOptions() options {
	return options{
		finalizeLevel: slog.LevelError,
	}
}

// resolve fills in defaults that depend on what the caller set.
func (o *options) resolve() {
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("")
	}
	if o.onFinalizeErr == nil {
		if o.logger != nil {
			o.onFinalizeErr = logFinalizeError(o.logger, o.finalizeLevel)
		} else {
			o.onFinalizeErr = printFinalizeError
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.progress == nil {
		o.progress = progress.Nop{}
	}
}

func WithGate(g *gate.Gate) Option {
	return func(opts *options) error {
		if g == nil {
			return errors.New("gate must not be nil")
		}
		opts.gate = g
		return nil
	}
}

func WithCleanup(policy CleanupPolicy) Option {
	return func(opts *options) error {
		opts.cleanup = policy
		return nil
	}
}

func WithProgress(sink progress.Sink) Option {
	return func(opts *options) error {
		if sink == nil {
			return errors.New("progress sink must not be nil")
		}
		opts.progress = sink
		return nil
	}
}

func WithFinalizeErrorFunc(fn FinalizeErrorFunc) Option {
	return func(opts *options) error {
		if fn == nil {
			return errors.New("finalize error func must not be nil")
		}
		opts.onFinalizeErr = fn
		return nil
	}
}

// WithLogger sets the logger used for transfer diagnostics and, unless
// WithFinalizeErrorFunc is also given, for finalize errors.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		opts.logger = logger
		return nil
	}
}

// WithFinalizeLogLevel sets the level finalize errors are logged at when
// they go through the logger from WithLogger. Defaults to error.
func WithFinalizeLogLevel(level slog.Level) Option {
	return func(opts *options) error {
		opts.finalizeLevel = level
		return nil
	}
}

// WithFs opens the File on fsys instead of the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(opts *options) error {
		if fsys == nil {
			return errors.New("filesystem must not be nil")
		}
		opts.fs = fsys
		return nil
	}
}

// WithTracer records a span per transfer on t.
func WithTracer(t trace.Tracer) Option {
	return func(opts *options) error {
		if t == nil {
			return errors.New("tracer must not be nil")
		}
		opts.tracer = t
		return nil
	}
}

func printFinalizeError(path string, err *FinalizeError) {
	_, _ = fmt.Fprintln(diagnostics, err.Error())
}

func logFinalizeError(logger *slog.Logger, level slog.Level) FinalizeErrorFunc {
	return func(path string, err *FinalizeError) {
		var msg string
		switch err.Kind {
		case FinalizeDeleting:
			msg = "error deleting file on release"
		default:
			msg = "error getting file metadata on release"
		}

		logger.Log(context.Background(), level, msg, "path", path, "error", err.Err)
	}
}
