package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the per-host requests per second and burst.
type Config struct {
	RPS   int
	Burst int
}

// throttle is an http.RoundTripper keeping one token bucket per request
// host, so a slow mirror does not hold back downloads from another.
type throttle struct {
	cfg   Config
	next  http.RoundTripper
	logFn func() *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRoundTripper returns an http.RoundTripper that throttles outbound
// requests per host. logFn lazily resolves the logger at request time; a
// nil-returning logFn disables the exhausted/waited log lines.
func NewRoundTripper(rps, burst int, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	return &throttle{
		cfg:      Config{RPS: rps, Burst: burst},
		next:     next,
		logFn:    logFn,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (t *throttle) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.cfg.RPS), t.cfg.Burst)
		t.limiters[host] = l
	}

	return l
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	host := r.URL.Host
	limiter := t.limiter(host)

	// Reserve before waiting so the log line reflects the real delay.
	rsv := limiter.Reserve()
	if !rsv.OK() {
		return nil, fmt.Errorf("%w: burst %d", ErrWaitingFailed, t.cfg.Burst)
	}

	delay := rsv.Delay()
	if delay > 0 {
		if logger := t.logFn(); logger != nil {
			logger.Info("throttle tokens exhausted", "host", host, "rate", t.cfg.RPS, "burst", t.cfg.Burst, "wait", delay.String())
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			rsv.Cancel()
			return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, ctx.Err())
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}
