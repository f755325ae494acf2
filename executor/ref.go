package executor

import (
	"errors"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrRefConsumed  = errors.New("reference already consumed")
	ErrRefShared    = errors.New("reference has other owners")
	ErrForeignScope = errors.New("reference belongs to another executor")
	errRootReleased = errors.New("root already released")
)

// root pins a host object in the executor's root table until it is
// released on the loop.
type root struct {
	id       uint64
	obj      *goja.Object
	exec     *Executor
	released atomic.Bool
}

func (r *root) release(s *Scope) error {
	if !r.released.CompareAndSwap(false, true) {
		return errRootReleased
	}
	delete(s.exec.roots, r.id)
	s.exec.live.Add(-1)
	return nil
}

type shared struct {
	root *root
	refs atomic.Int64
}

// Ref is a shared, reference-counted handle to a host object. Every Ref
// value is one owner and must be consumed exactly once with Take,
// TryUnwrap or Drop. Clone creates another owner.
//
// A Ref may be passed between goroutines freely, but the object itself is
// only reachable from a Scope.
type Ref struct {
	sh       *shared
	consumed atomic.Bool
}

// NewRef roots obj and returns its first owner.
func (s *Scope) NewRef(obj *goja.Object) *Ref {
	e := s.exec
	r := &root{id: e.rootSeq.Add(1), obj: obj, exec: e}
	e.roots[r.id] = obj
	e.live.Add(1)

	sh := &shared{root: r}
	sh.refs.Store(1)
	return &Ref{sh: sh}
}

// Clone adds an owner. Cloning a consumed Ref panics.
func (r *Ref) Clone() *Ref {
	if r.consumed.Load() {
		panic("executor: clone of consumed reference")
	}
	r.sh.refs.Add(1)
	return &Ref{sh: r.sh}
}

// Count reports the current number of owners.
func (r *Ref) Count() int64 {
	return r.sh.refs.Load()
}

// Value borrows the object without consuming the Ref.
func (r *Ref) Value(s *Scope) (*goja.Object, error) {
	if err := r.check(s); err != nil {
		return nil, err
	}
	if r.consumed.Load() {
		return nil, ErrRefConsumed
	}
	return r.sh.root.obj, nil
}

// Take consumes the Ref and returns the object. When this is the only
// owner the root is released; otherwise the object is borrowed and only
// this owner's share is dropped.
func (r *Ref) Take(s *Scope) (*goja.Object, error) {
	if err := r.check(s); err != nil {
		return nil, err
	}
	if !r.consumed.CompareAndSwap(false, true) {
		return nil, ErrRefConsumed
	}

	obj := r.sh.root.obj
	if r.sh.refs.CompareAndSwap(1, 0) {
		r.sh.root.release(s)
		return obj, nil
	}
	if r.sh.refs.Add(-1) == 0 {
		r.sh.root.release(s)
	}
	return obj, nil
}

// TryUnwrap consumes the Ref. It succeeds only for the sole owner, in which
// case the root is released and the object returned. Otherwise this
// owner's share is dropped and ErrRefShared returned.
func (r *Ref) TryUnwrap(s *Scope) (*goja.Object, error) {
	if err := r.check(s); err != nil {
		return nil, err
	}
	if !r.consumed.CompareAndSwap(false, true) {
		return nil, ErrRefConsumed
	}

	if r.sh.refs.CompareAndSwap(1, 0) {
		r.sh.root.release(s)
		return r.sh.root.obj, nil
	}
	if r.sh.refs.Add(-1) == 0 {
		r.sh.root.release(s)
		return r.sh.root.obj, nil
	}
	return nil, ErrRefShared
}

// Drop consumes the Ref from any goroutine. When it was the last owner the
// root release is scheduled on the loop, even when the queue is full; once
// the executor is closed the root is leaked and a warning logged.
func (r *Ref) Drop() {
	if !r.consumed.CompareAndSwap(false, true) {
		return
	}
	if r.sh.refs.Add(-1) != 0 {
		return
	}

	rt := r.sh.root
	err := rt.exec.Schedule(func(s *Scope) error {
		return rt.release(s)
	})
	if err != nil {
		rt.exec.logger.Warn("unable to release host reference, potential memory leak",
			zap.Uint64("root", rt.id),
			zap.Error(err))
	}
}

func (r *Ref) check(s *Scope) error {
	if s == nil || s.exec != r.sh.root.exec {
		return ErrForeignScope
	}
	return nil
}
