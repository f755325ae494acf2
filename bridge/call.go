package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostcall/executor"
	"github.com/caffeineduck/hostcall/internal/oneshot"
)

// Encoder converts a Go argument into a host value on the loop.
type Encoder[T any] func(vm *goja.Runtime, arg T) (goja.Value, error)

// Decoder converts a host value into a Go result on the loop.
type Decoder[R any] func(vm *goja.Runtime, value goja.Value) (R, error)

// ArgsBuilder produces the positional arguments of a method call on the
// loop.
type ArgsBuilder func(vm *goja.Runtime) ([]goja.Value, error)

type outcome[R any] struct {
	value R
	err   error
}

// Call invokes fn(arg, token) on the host loop and waits until host code
// completes the token. arg is passed as a string, or null when nil. The
// resolved value must be a JSON string, decoded into R.
//
// Call consumes fn and never blocks on submission: a saturated queue fails
// immediately with ErrQueueFull. If fn throws before completing the token,
// the call is rejected with the thrown message.
func Call[R any](ctx context.Context, exec *executor.Executor, fn *executor.Ref, arg *string) (R, error) {
	var zero R
	logger := exec.Logger()
	tx, rx := oneshot.New[outcome[R]]()

	token := NewToken(func(payload string, err error) error {
		var out outcome[R]
		if err != nil {
			out.err = internalFrom(err)
		} else if err := json.Unmarshal([]byte(payload), &out.value); err != nil {
			out.err = Internal(err.Error())
		}
		deliver(logger, tx, out)
		return nil
	})
	dropOnCollect(token, tx)

	job := func(s *executor.Scope) error {
		vm := s.Runtime()
		callable, err := takeFunction(s, fn)
		if err != nil {
			return token.Reject(vm, err.Error())
		}

		argument := goja.Null()
		if arg != nil {
			argument = vm.ToValue(*arg)
		}

		if _, err := callable(goja.Undefined(), argument, token.Object(vm)); err != nil {
			return failed(vm, logger, token, err)
		}
		return nil
	}

	if err := exec.TrySubmit(job); err != nil {
		fn.Drop()
		tx.Drop()
		return zero, fmt.Errorf("unable to send call to host: %w", err)
	}
	return await(ctx, rx)
}

// CallRaw invokes fn(encode(arg), token) on the host loop. The resolved
// host value is converted by decode, avoiding a string round trip.
//
// CallRaw consumes fn and waits for queue capacity when the host is busy.
// As with Call, a function that throws before completing its token rejects
// the call with the thrown message.
func CallRaw[T, R any](ctx context.Context, exec *executor.Executor, fn *executor.Ref, arg T, encode Encoder[T], decode Decoder[R]) (R, error) {
	var zero R
	logger := exec.Logger()
	tx, rx := oneshot.New[outcome[R]]()

	token := NewRawToken(func(vm *goja.Runtime, value goja.Value, err error) error {
		var out outcome[R]
		if err != nil {
			out.err = internalFrom(err)
		} else if out.value, err = decode(vm, value); err != nil {
			out.err = internalFrom(err)
		}
		deliver(logger, tx, out)
		return nil
	})
	dropOnCollect(token, tx)

	job := func(s *executor.Scope) error {
		vm := s.Runtime()
		callable, err := takeFunction(s, fn)
		if err != nil {
			return token.Reject(vm, err.Error())
		}

		argument, err := encode(vm, arg)
		if err != nil {
			return token.Reject(vm, fmt.Sprintf("encode argument: %v", err))
		}

		if _, err := callable(goja.Undefined(), argument, token.Object(vm)); err != nil {
			return failed(vm, logger, token, err)
		}
		return nil
	}

	if err := exec.Submit(ctx, job); err != nil {
		fn.Drop()
		tx.Drop()
		return zero, fmt.Errorf("unable to send call to host: %w", err)
	}
	return await(ctx, rx)
}

// CallMethod calls fn with this as receiver and the arguments produced by
// args, then decodes the synchronous return value. No token is involved.
//
// If the call throws, the error is logged and no outcome is produced; the
// caller observes the dropped channel as an internal "channel closed"
// error. CallMethod consumes fn and this; this may be nil.
func CallMethod[R any](ctx context.Context, exec *executor.Executor, fn, this *executor.Ref, args ArgsBuilder, decode Decoder[R]) (R, error) {
	var zero R
	logger := exec.Logger()
	tx, rx := oneshot.New[outcome[R]]()

	job := func(s *executor.Scope) error {
		defer tx.Drop()
		vm := s.Runtime()

		callable, err := takeFunction(s, fn)
		if err != nil {
			if this != nil {
				this.Drop()
			}
			deliver(logger, tx, outcome[R]{err: internalFrom(err)})
			return nil
		}

		receiver := goja.Undefined()
		if this != nil {
			obj, err := this.Take(s)
			if err != nil {
				deliver(logger, tx, outcome[R]{err: internalFrom(err)})
				return nil
			}
			receiver = obj
		}

		var argv []goja.Value
		if args != nil {
			if argv, err = args(vm); err != nil {
				deliver(logger, tx, outcome[R]{err: internalFrom(err)})
				return nil
			}
		}

		result, err := callable(receiver, argv...)
		if err != nil {
			logger.Error("unable to call host function", zap.Error(err))
			return nil
		}

		var out outcome[R]
		if out.value, err = decode(vm, result); err != nil {
			out.err = internalFrom(err)
		}
		deliver(logger, tx, out)
		return nil
	}

	if err := exec.TrySubmit(job); err != nil {
		fn.Drop()
		if this != nil {
			this.Drop()
		}
		tx.Drop()
		return zero, fmt.Errorf("unable to send call to host: %w", err)
	}
	return await(ctx, rx)
}

func takeFunction(s *executor.Scope, ref *executor.Ref) (goja.Callable, error) {
	obj, err := ref.Take(s)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(obj)
	if !ok {
		return nil, Internal("host reference is not a function")
	}
	return fn, nil
}

// failed settles a token whose host function threw before completing it.
// A token already completed by the host is left alone.
func failed(vm *goja.Runtime, logger *zap.Logger, token *Token, err error) error {
	logger.Error("unable to call host function", zap.Uint64("token", token.ID()), zap.Error(err))
	if token.Consumed() {
		return nil
	}
	return token.Reject(vm, err.Error())
}

func deliver[R any](logger *zap.Logger, tx *oneshot.Sender[outcome[R]], out outcome[R]) {
	if err := tx.Send(out); err != nil {
		logger.Debug("unable to send result from host back to caller, channel closed", zap.Error(err))
	}
}

// dropOnCollect drops the sender once the host has discarded the token
// without completing it.
func dropOnCollect[R any](token *Token, tx *oneshot.Sender[outcome[R]]) {
	runtime.AddCleanup(token, func(tx *oneshot.Sender[outcome[R]]) {
		tx.Drop()
	}, tx)
}

func await[R any](ctx context.Context, rx *oneshot.Receiver[outcome[R]]) (R, error) {
	var zero R
	out, err := rx.Recv(ctx)
	if err != nil {
		if errors.Is(err, oneshot.ErrSenderDropped) {
			return zero, Internal("channel closed")
		}
		return zero, err
	}
	if out.err != nil {
		return zero, out.err
	}
	return out.value, nil
}
