package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("rejected by backend")
	ErrServer          = errors.New("backend error")
	ErrUnavailable     = errors.New("backend unavailable")
	ErrInconclusive    = errors.New("inconclusive response")
)

// Error is the normalized failure of a backend call. Kind is one of the
// package sentinels; Message is what the backend said, if anything.
type Error struct {
	Kind    error
	Status  int
	Method  string
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %v (%d): %s", e.Method, e.Path, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %v: %s", e.Method, e.Path, e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthenticated
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrValidation
	}
}

// Message returns text that can be shown to the user for any error coming out
// of this package.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var backendErr *Error
	hasMessage := errors.As(err, &backendErr) && backendErr.Message != ""

	switch {
	case errors.Is(err, ErrUnauthenticated):
		if hasMessage {
			return backendErr.Message
		}
		return "Your session has expired, please sign in again"
	case errors.Is(err, ErrForbidden):
		if hasMessage {
			return backendErr.Message
		}
		return "You do not have permission to perform this action"
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found"
	case errors.Is(err, ErrValidation):
		if hasMessage {
			return backendErr.Message
		}
		return "The request was rejected"
	case errors.Is(err, ErrUnavailable):
		return "Unable to reach the server, please try again"
	case errors.Is(err, ErrServer), errors.Is(err, ErrInconclusive):
		return "Something went wrong on the server, please try again"
	default:
		return "Something went wrong, please try again"
	}
}
