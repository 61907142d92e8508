package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors a Client may return or wrap.
var (
	ErrNotFound        = errors.New("hosting: not found")
	ErrPayloadTooLarge = errors.New("hosting: payload too large")
	ErrInvalidContent  = errors.New("hosting: invalid content")
)

// StatusError is a failure reported by the host with a status code.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("hosting: HTTP %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("hosting: HTTP %d: %s", e.StatusCode, msg)
}

// Is maps well-known status codes onto the package sentinels so callers can
// use errors.Is without caring which adapter produced the error.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrPayloadTooLarge:
		return e.StatusCode == http.StatusRequestEntityTooLarge
	case ErrInvalidContent:
		return e.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}

// IsTransient reports whether retrying the failed call might succeed.
// Anything not known to be permanent is treated as transient, including
// per-request timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrInvalidContent) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode >= 500:
			return true
		case se.StatusCode >= 400:
			return false
		}
	}
	return true
}
