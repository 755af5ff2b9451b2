package ruleset

import (
	"errors"
	"fmt"
)

// ValidationError reports bad settings or a malformed move payload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a ValidationError.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IllegalMove reports a well-formed request the current state does not allow.
type IllegalMove struct {
	Err error
}

func (e *IllegalMove) Error() string {
	return e.Err.Error()
}

func (e *IllegalMove) Unwrap() error {
	return e.Err
}

// Illegal wraps a reason as an IllegalMove.
func Illegal(format string, args ...any) error {
	return &IllegalMove{Err: fmt.Errorf(format, args...)}
}

// Reasons shared by every game type. Match them with errors.Is.
var (
	ErrFull        = errors.New("this game is full")
	ErrNotActive   = errors.New("game has not started")
	ErrNotYourTurn = errors.New("it's not your turn")
	ErrNotSeated   = errors.New("you are not in this game")
	ErrNotEnded    = errors.New("this game is still active")
	ErrEnded       = errors.New("this game has already ended")
)

func illegal(err error) error {
	return &IllegalMove{Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsIllegal reports whether err is an IllegalMove.
func IsIllegal(err error) bool {
	var m *IllegalMove
	return errors.As(err, &m)
}
