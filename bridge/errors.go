package bridge

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/hostcall/executor"
)

var (
	// ErrChannelClosed is returned when the executor has shut down.
	ErrChannelClosed = executor.ErrClosed
	// ErrQueueFull is returned when a best-effort submission finds no room.
	ErrQueueFull = executor.ErrQueueFull
	// ErrAlreadyConsumed is returned by a token that has already completed.
	ErrAlreadyConsumed = errors.New("token already consumed")
)

// InternalError carries a failure produced on the host side: a decode
// error, a rejection message, or a malformed host value.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return e.Message
}

// Internal builds an InternalError carrying msg unchanged.
func Internal(msg string) error {
	return &InternalError{Message: msg}
}

// Internalf builds an InternalError from a format string.
func Internalf(format string, args ...any) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// IsInternal reports whether err is or wraps an InternalError.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

func internalFrom(err error) error {
	if IsInternal(err) {
		return err
	}
	return &InternalError{Message: err.Error()}
}
