package progress

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval is how often a Logger emits a record while a transfer
// is running.
const DefaultInterval = time.Second

// Logger is a Sink writing progress records to a slog.Logger at most once
// per interval, plus one record at start and one on completion.
type Logger struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	total       int64
	transferred int64
	startTime   time.Time
	lastLog     time.Time
}

// NewLogger returns a Logger sink. A zero interval uses DefaultInterval.
func NewLogger(logger *slog.Logger, interval time.Duration) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Logger{
		logger:   logger,
		interval: interval,
		now:      time.Now,
		total:    -1,
	}
}

func (l *Logger) Start(path string, total int64) {
	l.total = total
	l.transferred = 0
	l.startTime = l.now()
	l.lastLog = l.startTime

	l.logger.Info("download started", "path", path, "total", total)
}

func (l *Logger) Update(path string, written int64) {
	l.transferred = written

	now := l.now()
	if now.Sub(l.lastLog) >= l.interval {
		l.lastLog = now
		l.log("downloading", path, now)
	}
}

func (l *Logger) Finished(path string) {
	l.log("download complete", path, l.now())
}

func (l *Logger) log(msg, path string, now time.Time) {
	elapsed := now.Sub(l.startTime)

	attrs := []any{
		"path", path,
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", l.transferred,
		"total", l.total,
	}
	if l.total > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(l.transferred)/float64(l.total)*100))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		attrs = append(attrs, "mbps", fmt.Sprintf("%.2f", float64(l.transferred)/secs/(1024*1024)))
	}

	l.logger.Info(msg, attrs...)
}
