// Package oneshot provides a single-value channel between exactly one
// producer and one consumer.
package oneshot

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrSenderDropped = errors.New("sender dropped without sending")
	ErrReceiverGone  = errors.New("receiver is gone")
	ErrAlreadySent   = errors.New("value already sent")
)

const (
	stateOpen int32 = iota
	stateClosed
)

type channel[T any] struct {
	ch    chan T
	state atomic.Int32
	gone  atomic.Bool
}

// Sender is the producing half. It may send at most once.
type Sender[T any] struct {
	c *channel[T]
}

// Receiver is the consuming half.
type Receiver[T any] struct {
	c *channel[T]
}

// New returns a connected sender and receiver.
func New[T any]() (*Sender[T], *Receiver[T]) {
	c := &channel[T]{ch: make(chan T, 1)}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Send delivers v to the receiver. It never blocks. When the receiver has
// already been abandoned the value is discarded and ErrReceiverGone is
// returned.
func (s *Sender[T]) Send(v T) error {
	if !s.c.state.CompareAndSwap(stateOpen, stateClosed) {
		return ErrAlreadySent
	}
	defer close(s.c.ch)

	if s.c.gone.Load() {
		return ErrReceiverGone
	}
	s.c.ch <- v
	return nil
}

// Drop closes the channel without a value. It is a no-op after Send or a
// previous Drop.
func (s *Sender[T]) Drop() {
	if s.c.state.CompareAndSwap(stateOpen, stateClosed) {
		close(s.c.ch)
	}
}

// Closed reports whether Send or Drop has been called.
func (s *Sender[T]) Closed() bool {
	return s.c.state.Load() == stateClosed
}

// Recv waits for the value. If ctx ends first the receiver is abandoned and
// any later Send fails with ErrReceiverGone.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	select {
	case v, ok := <-r.c.ch:
		if !ok {
			var zero T
			return zero, ErrSenderDropped
		}
		return v, nil
	case <-ctx.Done():
		r.Close()
		var zero T
		return zero, ctx.Err()
	}
}

// Close abandons the receiver.
func (r *Receiver[T]) Close() {
	r.c.gone.Store(true)
}
