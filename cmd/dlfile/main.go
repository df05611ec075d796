// dlfile downloads one or more URLs into local files. Every transfer goes
// through a managed destination: the file is opened under an overwrite
// policy and released under a cleanup policy, so an aborted download never
// leaves an empty file behind.
//
// Jobs come either from URL DEST pairs on the command line or from a YAML
// manifest (--manifest). Transfers run concurrently, bounded by
// --concurrency.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/adamwoolhether/dlfile/client"
	"github.com/adamwoolhether/dlfile/download"
	"github.com/adamwoolhether/dlfile/gate"
	"github.com/adamwoolhether/dlfile/internal/manifest"
	"github.com/adamwoolhether/dlfile/internal/validate"
	"github.com/adamwoolhether/dlfile/progress"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitDestinationExists = 3
	ExitNotFound          = 4
	ExitPermission        = 5
	ExitServerError       = 6
	ExitCancelled         = 7
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// usageError is a problem with the command line itself.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ue):
		return ExitInvalidArgs
	case errors.Is(err, download.ErrDownloadCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, fs.ErrExist):
		return ExitDestinationExists
	case errors.Is(err, fs.ErrNotExist):
		return ExitNotFound
	case errors.Is(err, fs.ErrPermission):
		return ExitPermission
	case errors.Is(err, client.ErrServer):
		return ExitServerError
	default:
		return ExitGeneralError
	}
}

type flags struct {
	manifest    string
	concurrency int
	overwrite   string
	cleanup     string
	timeout     time.Duration
	rps         int
	burst       int
	userAgent   string
	retries     int
	retryWait   time.Duration
	decode      bool
	progress    bool
	verbose     bool
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	var f flags

	defaults := manifest.Default()

	flagSet := pflag.NewFlagSet("dlfile", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&f.manifest, "manifest", "m", "", "read jobs and settings from this YAML file")
	flagSet.IntVarP(&f.concurrency, "concurrency", "c", defaults.Concurrency, "maximum number of simultaneous transfers")
	flagSet.StringVar(&f.overwrite, "overwrite", defaults.Overwrite, "policy for existing files: replace-if-empty, replace, create-exclusive")
	flagSet.StringVar(&f.cleanup, "cleanup", defaults.Cleanup, "when to delete the file on release: if-empty, always, never")
	flagSet.DurationVar(&f.timeout, "timeout", 0, "overall timeout per request, including the body (0 disables)")
	flagSet.IntVar(&f.rps, "rps", 0, "requests per second per host (0 disables throttling)")
	flagSet.IntVar(&f.burst, "burst", 1, "request burst per host when --rps is set")
	flagSet.StringVar(&f.userAgent, "user-agent", "dlfile/1.0", "User-Agent header")
	flagSet.IntVar(&f.retries, "retries", defaults.Retry.Attempts, "retries for server errors and broken transfers")
	flagSet.DurationVar(&f.retryWait, "retry-wait", defaults.Retry.Backoff, "base wait between retries")
	flagSet.BoolVar(&f.decode, "decode", false, "request zstd or gzip bodies and decode them")
	flagSet.BoolVarP(&f.progress, "progress", "p", false, "log transfer progress")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError{err: err}
	}

	m, err := buildManifest(f, flagSet)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	return fetchAll(ctx, m, f.progress, logger)
}

// buildManifest loads the manifest if one was named and applies the flags
// the user set explicitly, or builds one from URL DEST argument pairs.
func buildManifest(f flags, flagSet *pflag.FlagSet) (manifest.Manifest, error) {
	args := flagSet.Args()

	m := manifest.Default()
	if f.manifest != "" {
		if len(args) > 0 {
			return manifest.Manifest{}, usagef("unexpected argument %q with --manifest", args[0])
		}

		var err error
		if m, err = manifest.LoadFromFile(f.manifest); err != nil {
			return manifest.Manifest{}, usageError{err: err}
		}
	} else {
		if len(args) == 0 || len(args)%2 != 0 {
			return manifest.Manifest{}, usagef("expected URL DEST pairs, got %d arguments", len(args))
		}
		for i := 0; i < len(args); i += 2 {
			m.Jobs = append(m.Jobs, manifest.Job{URL: args[i], Dest: args[i+1]})
		}
	}

	changed := flagSet.Changed
	if f.manifest == "" || changed("concurrency") {
		m.Concurrency = f.concurrency
	}
	if f.manifest == "" || changed("overwrite") {
		m.Overwrite = f.overwrite
	}
	if f.manifest == "" || changed("cleanup") {
		m.Cleanup = f.cleanup
	}
	if f.manifest == "" || changed("timeout") {
		m.Timeout = f.timeout
	}
	if f.manifest == "" || changed("rps") {
		m.Throttle.RPS = f.rps
	}
	if f.manifest == "" || changed("burst") {
		m.Throttle.Burst = f.burst
	}
	if f.manifest == "" || changed("user-agent") {
		m.UserAgent = f.userAgent
	}
	if f.manifest == "" || changed("retries") {
		m.Retry.Attempts = f.retries
	}
	if f.manifest == "" || changed("retry-wait") {
		m.Retry.Backoff = f.retryWait
	}
	if changed("decode") {
		m.Decode = f.decode
	}

	if err := validate.Struct(m); err != nil {
		return manifest.Manifest{}, usagef("invalid settings: %w", err)
	}

	return m, nil
}

func clientOptions(m manifest.Manifest, logger *slog.Logger) []client.Option {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithTimeout(m.Timeout),
		client.WithRetries(m.Retry.Attempts, m.Retry.Backoff),
	}
	if m.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(m.UserAgent))
	}
	if m.Throttle.RPS > 0 {
		opts = append(opts, client.WithThrottle(m.Throttle.RPS, max(m.Throttle.Burst, 1)))
	}
	if m.Decode {
		opts = append(opts, client.WithDecoding())
	}
	return opts
}

// fetchAll runs every job of m through one shared gate and returns the
// joined errors of the failed ones.
func fetchAll(ctx context.Context, m manifest.Manifest, showProgress bool, logger *slog.Logger) error {
	g, err := gate.New(m.Concurrency)
	if err != nil {
		return usageError{err: err}
	}

	c, err := client.Build(clientOptions(m, logger)...)
	if err != nil {
		return usageError{err: err}
	}

	type plan struct {
		job       manifest.Job
		src       *url.URL
		overwrite download.OverwritePolicy
		cleanup   download.CleanupPolicy
	}

	plans := make([]plan, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		src, err := url.Parse(job.URL)
		if err != nil {
			return usagef("job %s: %w", job.Dest, err)
		}
		overwrite, cleanup, err := m.Policies(job)
		if err != nil {
			return usageError{err: err}
		}
		plans = append(plans, plan{job: job, src: src, overwrite: overwrite, cleanup: cleanup})
	}

	q := download.NewQueue()
	for _, p := range plans {
		opts := []download.Option{
			download.WithGate(g),
			download.WithCleanup(p.cleanup),
			download.WithLogger(logger),
		}
		if showProgress {
			opts = append(opts, download.WithProgress(progress.NewLogger(logger, 0)))
		}

		q.Start(ctx, func(ctx context.Context) error {
			n, err := c.Fetch(ctx, p.src, p.job.Dest, p.overwrite, opts...)
			if err != nil {
				logger.Error("download failed", "url", p.job.URL, "path", p.job.Dest, "error", err)
				return fmt.Errorf("%s: %w", p.job.Dest, err)
			}

			logger.Info("download saved", "url", p.job.URL, "path", p.job.Dest, "bytes", n)
			return nil
		})
	}

	return q.Wait()
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `dlfile downloads URLs into managed destination files.

Usage:
  dlfile [flags] URL DEST [URL DEST ...]
  dlfile [flags] --manifest jobs.yaml

Flags given together with --manifest override the manifest's settings.

Exit codes:
  0 success, 1 other failure, 2 invalid arguments, 3 destination exists,
  4 not found, 5 permission denied, 6 server error, 7 cancelled

Flags:
`)
	flagSet.PrintDefaults()
}
