package activity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies activity failures. Only KindFatal is retried.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "invalid_input"
	KindUnknownActivity ErrorKind = "unknown_activity"
	KindFatal           ErrorKind = "fatal"
	KindInvalidOutput   ErrorKind = "invalid_output"
)

var ErrUnknownActivity = errors.New("unknown activity")

// ActivityError is the error returned by Execute.
type ActivityError struct {
	Activity string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Activity, e.Kind, e.Message)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

func newActivityError(activity string, kind ErrorKind, err error) *ActivityError {
	return &ActivityError{Activity: activity, Kind: kind, Message: err.Error(), Err: err}
}

// IsRetryable reports whether err is a fatal activity error, the only kind worth another attempt.
func IsRetryable(err error) bool {
	var activityErr *ActivityError

	return errors.As(err, &activityErr) && activityErr.Kind == KindFatal
}

// KindOf returns the kind of an activity error, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var activityErr *ActivityError
	if errors.As(err, &activityErr) {
		return activityErr.Kind
	}

	return ""
}
