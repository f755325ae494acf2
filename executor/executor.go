package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("executor closed")
	ErrQueueFull = errors.New("executor queue full")
)

// Job is a unit of work that runs on the host loop. A returned error is
// logged; it does not stop the loop.
type Job func(s *Scope) error

// Stats holds job counters.
type Stats struct {
	Submitted uint64
	Executed  uint64
	Rejected  uint64
}

// Executor owns a JavaScript runtime and the single goroutine allowed to
// touch it. Jobs submitted from any goroutine run on that goroutine in FIFO
// order.
type Executor struct {
	cfg    config
	logger *zap.Logger
	vm     *goja.Runtime

	console *consolePrinter

	mu     sync.Mutex
	queue  []Job
	space  chan struct{}
	closed bool

	wake     chan struct{}
	ready    chan struct{}
	done     chan struct{}
	startErr error

	// roots is only touched on the loop goroutine.
	roots   map[uint64]*goja.Object
	rootSeq atomic.Uint64
	live    atomic.Int64

	submitted atomic.Uint64
	executed  atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a host loop with its own runtime. Init hooks run on the loop
// before New returns.
func New(opts ...Option) (*Executor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.capacity <= 0 {
		cfg.capacity = DefaultCapacity
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	e := &Executor{
		cfg:    cfg,
		logger: cfg.logger.With(zap.String("executor", cfg.name)),
		space:  make(chan struct{}),
		wake:   make(chan struct{}, 1),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		roots:  make(map[uint64]*goja.Object),
	}

	go e.loop()
	<-e.ready

	if e.startErr != nil {
		return nil, e.startErr
	}
	return e, nil
}

func (e *Executor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	if err := e.setup(); err != nil {
		e.startErr = err
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.ready)
		return
	}
	close(e.ready)

	for {
		if job, ok := e.next(); ok {
			e.exec(job)
			continue
		}

		e.mu.Lock()
		finished := e.closed && len(e.queue) == 0
		e.mu.Unlock()
		if finished {
			e.logger.Debug("host loop stopped", zap.Int64("live_roots", e.live.Load()))
			return
		}

		<-e.wake
	}
}

func (e *Executor) setup() error {
	e.vm = goja.New()
	if e.cfg.jsonTags {
		e.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	}
	if e.cfg.console {
		console, err := enableConsole(e.vm, e.cfg.stdout, e.cfg.stderr)
		if err != nil {
			return fmt.Errorf("enable console: %w", err)
		}
		e.console = console
	}

	s := &Scope{exec: e}
	for i, hook := range e.cfg.init {
		if err := hook(s); err != nil {
			return fmt.Errorf("init hook %d: %w", i, err)
		}
	}
	return nil
}

func (e *Executor) next() (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return nil, false
	}

	full := len(e.queue) >= e.cfg.capacity
	job := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]

	if full && len(e.queue) < e.cfg.capacity && !e.closed {
		close(e.space)
		e.space = make(chan struct{})
	}
	return job, true
}

func (e *Executor) exec(job Job) {
	s := &Scope{exec: e}
	defer func() {
		e.executed.Add(1)
		if r := recover(); r != nil {
			e.logger.Error("job panicked", zap.Any("panic", r))
		}
	}()

	if err := job(s); err != nil {
		e.logger.Error("job failed", zap.Error(err))
	}
}

func (e *Executor) push(job Job, force bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.rejected.Add(1)
		return ErrClosed
	}
	if !force && len(e.queue) >= e.cfg.capacity {
		e.mu.Unlock()
		e.rejected.Add(1)
		return ErrQueueFull
	}
	e.queue = append(e.queue, job)
	e.mu.Unlock()

	e.submitted.Add(1)
	e.signal()
	return nil
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues job, waiting for queue capacity if necessary. It fails
// with ErrClosed once the executor is shut down, or with ctx's error.
//
// Submit must not be called from a job; use Scope.Enqueue there.
func (e *Executor) Submit(ctx context.Context, job Job) error {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			e.rejected.Add(1)
			return ErrClosed
		}
		if len(e.queue) < e.cfg.capacity {
			e.queue = append(e.queue, job)
			e.mu.Unlock()
			e.submitted.Add(1)
			e.signal()
			return nil
		}
		space := e.space
		e.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			e.rejected.Add(1)
			return ctx.Err()
		}
	}
}

// TrySubmit enqueues job only if capacity is immediately available.
func (e *Executor) TrySubmit(job Job) error {
	return e.push(job, false)
}

// Schedule enqueues job regardless of capacity and fails only with
// ErrClosed. It is meant for cleanup work, such as releasing roots, that
// must not be lost to a saturated queue.
func (e *Executor) Schedule(job Job) error {
	return e.push(job, true)
}

// Do runs fn on the loop and waits for its result.
func (e *Executor) Do(ctx context.Context, fn Job) error {
	errCh := make(chan error, 1)
	err := e.Submit(ctx, func(s *Scope) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			errCh <- err
		}()
		return fn(s)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, runs everything already queued and stops the
// loop. It must not be called from a job.
func (e *Executor) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.space)
	}
	e.mu.Unlock()

	e.signal()
	<-e.done
	return nil
}

// Done is closed when the loop has stopped.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Logger returns the executor's logger.
func (e *Executor) Logger() *zap.Logger {
	return e.logger
}

// LiveRoots reports how many host objects are currently rooted.
func (e *Executor) LiveRoots() int64 {
	return e.live.Load()
}

// Len reports the number of queued jobs.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Executor) Stats() Stats {
	return Stats{
		Submitted: e.submitted.Load(),
		Executed:  e.executed.Load(),
		Rejected:  e.rejected.Load(),
	}
}

// Scope is the handle a job receives. It is only valid on the loop
// goroutine for the duration of the job.
type Scope struct {
	exec *Executor
}

func (s *Scope) Runtime() *goja.Runtime {
	return s.exec.vm
}

func (s *Scope) Executor() *Executor {
	return s.exec
}

// Enqueue appends job behind everything already queued. It ignores the
// capacity limit so a job can always schedule follow-up work.
func (s *Scope) Enqueue(job Job) error {
	return s.exec.push(job, true)
}
