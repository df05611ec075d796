package progress

// Sink observes a single transfer. total is the declared size in bytes,
// or a negative value when unknown. written is the cumulative number of
// bytes committed so far.
type Sink interface {
	Start(path string, total int64)
	Update(path string, written int64)
	Finished(path string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Start(string, int64)  {}
func (Nop) Update(string, int64) {}
func (Nop) Finished(string)      {}

// Funcs adapts a piece of caller-owned state and a set of callbacks to
// Sink. StartFn and FinishFn run at most once each, UpdateFn runs on
// every update. Any of the three may be nil.
type Funcs[C any] struct {
	Ctx      C
	StartFn  func(ctx *C, path string, total int64)
	UpdateFn func(ctx *C, path string, written int64)
	FinishFn func(ctx *C, path string)

	started  bool
	finished bool
}

// NewFuncs returns a Funcs sink bound to ctx.
func NewFuncs[C any](ctx C, start func(*C, string, int64), update func(*C, string, int64), finish func(*C, string)) *Funcs[C] {
	return &Funcs[C]{
		Ctx:      ctx,
		StartFn:  start,
		UpdateFn: update,
		FinishFn: finish,
	}
}

func (f *Funcs[C]) Start(path string, total int64) {
	if f.started {
		return
	}
	f.started = true

	if f.StartFn != nil {
		f.StartFn(&f.Ctx, path, total)
	}
}

func (f *Funcs[C]) Update(path string, written int64) {
	if f.UpdateFn != nil {
		f.UpdateFn(&f.Ctx, path, written)
	}
}

func (f *Funcs[C]) Finished(path string) {
	if f.finished {
		return
	}
	f.finished = true

	if f.FinishFn != nil {
		f.FinishFn(&f.Ctx, path)
	}
}

// Table is a stateless Sink built from plain functions. Nil entries are
// skipped.
type Table struct {
	OnStart    func(path string, total int64)
	OnUpdate   func(path string, written int64)
	OnFinished func(path string)
}

func (t Table) Start(path string, total int64) {
	if t.OnStart != nil {
		t.OnStart(path, total)
	}
}

func (t Table) Update(path string, written int64) {
	if t.OnUpdate != nil {
		t.OnUpdate(path, written)
	}
}

func (t Table) Finished(path string) {
	if t.OnFinished != nil {
		t.OnFinished(path)
	}
}
