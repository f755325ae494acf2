package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
)

// RawCallback receives the outcome of a token on the host loop: either the
// value passed to resolve, or the rejection error.
type RawCallback func(vm *goja.Runtime, value goja.Value, err error) error

// StringCallback receives a string payload or the rejection error.
type StringCallback func(payload string, err error) error

var tokenSeq atomic.Uint64

// Token is a single-use completion handle handed to host code. The first
// Resolve or Reject runs the callback; every later call fails with
// ErrAlreadyConsumed.
type Token struct {
	id       uint64
	callback atomic.Pointer[RawCallback]
}

// NewRawToken returns an armed token that hands the resolved host value to
// cb unchanged.
func NewRawToken(cb RawCallback) *Token {
	t := &Token{id: tokenSeq.Add(1)}
	t.callback.Store(&cb)
	return t
}

// NewToken returns an armed token whose resolve path expects a string.
func NewToken(cb StringCallback) *Token {
	return NewRawToken(func(vm *goja.Runtime, value goja.Value, err error) error {
		if err != nil {
			return cb("", err)
		}
		s, ok := exportString(value)
		if !ok {
			return cb("", Internalf("Can't downcast callback argument: expected string, got %s", describe(value)))
		}
		return cb(s, nil)
	})
}

// ID identifies the token in logs.
func (t *Token) ID() uint64 {
	return t.id
}

// Consumed reports whether the token has completed.
func (t *Token) Consumed() bool {
	return t.callback.Load() == nil
}

// Resolve completes the token with value.
func (t *Token) Resolve(vm *goja.Runtime, value goja.Value) error {
	cb := t.callback.Swap(nil)
	if cb == nil {
		return fmt.Errorf("resolve was called on token %d: %w", t.id, ErrAlreadyConsumed)
	}
	return (*cb)(vm, value, nil)
}

// Reject completes the token with a failure built from message.
func (t *Token) Reject(vm *goja.Runtime, message string) error {
	cb := t.callback.Swap(nil)
	if cb == nil {
		return fmt.Errorf("reject was called on token %d: %w", t.id, ErrAlreadyConsumed)
	}
	return (*cb)(vm, nil, Internal(message))
}

// Object exposes the token to host code as {resolve, reject}. Both
// functions are bound to this token; errors are thrown into the caller.
func (t *Token) Object(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()

	obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		if err := t.Resolve(vm, call.Argument(0)); err != nil {
			panic(vm.NewGoError(fmt.Errorf("token resolving error: %w", err)))
		}
		return goja.Undefined()
	})

	obj.Set("reject", func(call goja.FunctionCall) goja.Value {
		message, ok := exportString(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("reject expects a string message, got %s", describe(call.Argument(0))))
		}
		if err := t.Reject(vm, message); err != nil {
			panic(vm.NewGoError(fmt.Errorf("token rejecting error: %w", err)))
		}
		return goja.Undefined()
	})

	return obj
}

func exportString(v goja.Value) (string, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

func describe(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	if t := v.ExportType(); t != nil {
		return t.String()
	}
	return "unknown"
}
