package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Result holds the outcome of evaluating a script on the host loop.
type Result struct {
	Value    any
	Output   string
	Duration time.Duration
	Error    error
}

const (
	runQueued = iota
	runRunning
	runDone
	runInterrupted
)

// Run evaluates code on the host loop and waits for it to finish. Console
// output produced by the script is captured in Result.Output. Globals
// defined by the script persist for later runs and calls.
func (e *Executor) Run(ctx context.Context, code string, opts ...RunOption) Result {
	start := time.Now()

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		state = runQueued
	)
	resCh := make(chan Result, 1)

	job := func(s *Scope) error {
		mu.Lock()
		if state != runQueued {
			mu.Unlock()
			return nil
		}
		state = runRunning
		mu.Unlock()

		var out bytes.Buffer
		if e.console != nil {
			e.console.capture = &out
		}

		var res Result
		v, err := s.Runtime().RunScript(cfg.filename, code)
		if err != nil {
			res.Error = err
		} else {
			res.Value = export(v)
		}

		if e.console != nil {
			e.console.capture = nil
		}
		res.Output = out.String()

		mu.Lock()
		if state == runInterrupted {
			s.Runtime().ClearInterrupt()
		}
		state = runDone
		mu.Unlock()

		resCh <- res
		return nil
	}

	if err := e.Submit(ctx, job); err != nil {
		return Result{Error: fmt.Errorf("submit script: %w", err), Duration: time.Since(start)}
	}

	select {
	case res := <-resCh:
		res.Duration = time.Since(start)
		if res.Error != nil {
			var interrupted *goja.InterruptedError
			if errors.As(res.Error, &interrupted) {
				res.Error = fmt.Errorf("timeout after %v", cfg.timeout)
			} else {
				res.Error = fmt.Errorf("execution failed: %w", res.Error)
			}
		}
		return res

	case <-ctx.Done():
		mu.Lock()
		switch state {
		case runQueued:
			state = runDone
		case runRunning:
			state = runInterrupted
			e.vm.Interrupt(ctx.Err())
		}
		mu.Unlock()

		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %v", cfg.timeout)
		}
		return Result{Error: err, Duration: time.Since(start)}
	}
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
