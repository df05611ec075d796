package progress

import (
	"sync/atomic"
)

// State is the coarse phase of a transfer as seen through a Handle.
type State int

const (
	Starting State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// ObserveFunc is invoked by a Handle after each notification with the
// merged snapshot. total is negative when unknown.
type ObserveFunc func(path string, written, total int64, state State)

// Handle is a Sink whose counters can be read from other goroutines while
// a transfer writes to it. Updates are merged with a monotonic max, so an
// out-of-order update never makes BytesWritten go backwards. The total and
// the finished flag are each recorded at most once.
type Handle struct {
	written  atomic.Int64
	total    atomic.Int64
	hasTotal atomic.Bool
	finished atomic.Bool
	observe  ObserveFunc
}

// NewHandle returns a Handle. observe may be nil.
func NewHandle(observe ObserveFunc) *Handle {
	h := &Handle{observe: observe}
	h.total.Store(-1)

	return h
}

// State derives the phase from the counters.
func (h *Handle) State() State {
	switch {
	case h.finished.Load():
		return Finished
	case h.written.Load() == 0:
		return Starting
	default:
		return Running
	}
}

// BytesWritten is the largest cumulative byte count reported so far.
func (h *Handle) BytesWritten() int64 {
	return h.written.Load()
}

// TotalBytes returns the declared size, if one was reported.
func (h *Handle) TotalBytes() (int64, bool) {
	if !h.hasTotal.Load() {
		return 0, false
	}

	return h.total.Load(), true
}

// IsFinished reports whether the transfer flushed successfully.
func (h *Handle) IsFinished() bool {
	return h.finished.Load()
}

func (h *Handle) Start(path string, total int64) {
	if total >= 0 && h.hasTotal.CompareAndSwap(false, true) {
		h.total.Store(total)
	}

	h.notify(path, 0, Starting)
}

func (h *Handle) Update(path string, written int64) {
	h.notify(path, h.storeMax(written), Running)
}

func (h *Handle) Finished(path string) {
	h.finished.CompareAndSwap(false, true)

	h.notify(path, h.written.Load(), Finished)
}

func (h *Handle) storeMax(v int64) int64 {
	for {
		cur := h.written.Load()
		if v <= cur {
			return cur
		}
		if h.written.CompareAndSwap(cur, v) {
			return v
		}
	}
}

func (h *Handle) notify(path string, written int64, state State) {
	if h.observe == nil {
		return
	}

	total := int64(-1)
	if t, ok := h.TotalBytes(); ok {
		total = t
	}

	h.observe(path, written, total, state)
}
