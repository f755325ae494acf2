package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostcall/executor"
)

// ErrUnknownFunction is thrown into scripts calling an unregistered name.
var ErrUnknownFunction = errors.New("unknown host function")

// Func is a Go capability callable from host scripts through host.call.
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	logger *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger logs every host call at debug level.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		funcs:  make(map[string]Func),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call invokes name with args.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	result, err := fn(ctx, args)
	r.logger.Debug("host call",
		zap.String("func", name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return result, err
}

// Install returns an init job that exposes the registry to scripts as the
// global object host:
//
//	host.call("kv_set", {key: "a", value: 1})
//	host.list()
//
// Functions run synchronously on the host loop with ctx; errors are thrown
// into the script. While one runs no other job is served, so a slow
// function or Store (a SQLite file on a busy disk, say) delays every
// pending bridge call. Keep them short.
func (r *Registry) Install(ctx context.Context) executor.Job {
	return func(s *executor.Scope) error {
		vm := s.Runtime()
		host := vm.NewObject()

		err := host.Set("call", func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()

			var args map[string]any
			if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
				if err := vm.ExportTo(a, &args); err != nil {
					panic(vm.NewTypeError("host.call %s: arguments must be an object", name))
				}
			}

			result, err := r.Call(ctx, name, args)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(result)
		})
		if err != nil {
			return err
		}
		if err := host.Set("list", r.List); err != nil {
			return err
		}
		return vm.Set("host", host)
	}
}
