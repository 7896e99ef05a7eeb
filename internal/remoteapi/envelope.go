package remoteapi

import (
	"errors"
	"fmt"
)

// ErrCallFailed is the single error kind for a remote call whose return
// code is not ok. Callers compare with errors.Is.
var ErrCallFailed = errors.New("remoteapi: retcode not OK, API call failed")

// StatusError carries the failing call and its code for logging.
type StatusError struct {
	Func string
	Code ReturnCode
}

func (e *StatusError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("%s (ret=%s)", ErrCallFailed.Error(), e.Code)
	}
	return fmt.Sprintf("%s: %s (ret=%s)", e.Func, ErrCallFailed.Error(), e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrCallFailed
}

// Check turns a bare return code into an error.
func Check(code ReturnCode) error {
	if code.OK() {
		return nil
	}
	return &StatusError{Code: code}
}

// CheckCall is Check with the call name attached to the error.
func CheckCall(fn string, code ReturnCode) error {
	if code.OK() {
		return nil
	}
	return &StatusError{Func: fn, Code: code}
}

// Unwrap returns payload unchanged when code is ok and the zero value
// plus a *StatusError otherwise. The payload is never inspected.
func Unwrap[T any](payload T, code ReturnCode) (T, error) {
	if err := Check(code); err != nil {
		var zero T
		return zero, err
	}
	return payload, nil
}

// CodeOf extracts the return code of a failed call, if err is one.
func CodeOf(err error) (ReturnCode, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return ReturnOK, false
}
