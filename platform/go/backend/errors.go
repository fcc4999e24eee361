package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed backend call so callers can choose a retry policy.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Sentinels matched through errors.Is against any *Error of the same kind.
var (
	ErrNotFound  = errors.New("backend: not found")
	ErrTransient = errors.New("backend: transient failure")
	ErrPermanent = errors.New("backend: permanent failure")
)

// Error describes a failed call to the backend API.
type Error struct {
	Op         string
	StatusCode int // zero when no response was received
	Kind       Kind
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backend %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) and friends work without exposing Kind comparisons.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// KindOf reports the classification of err; errors that did not come from the client are permanent.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindPermanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
