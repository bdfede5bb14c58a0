// Package errors classifies failures talking to the cluster API so callers
// can decide between retrying, re-authenticating and giving up.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
)

// Kind is the category of an API failure.
type Kind string

const (
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindAPI        Kind = "api"
	KindTimeout    Kind = "timeout"
	KindDecode     Kind = "decode"
)

// APIError is a structured failure from one API operation.
type APIError struct {
	Kind       Kind
	Op         string // e.g. "cluster_resources", "renew_ticket"
	Host       string
	Err        error
	StatusCode int
	Timestamp  time.Time
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the package sentinels by kind.
func (e *APIError) Is(target error) bool {
	if target == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnauthorized, ErrForbidden:
		return e.Kind == KindAuth
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrConnectionFailed:
		return e.Kind == KindConnection
	}
	return errors.Is(e.Err, target)
}

// New builds an APIError, deriving Retryable from the kind.
func New(kind Kind, op, host string, err error) *APIError {
	return &APIError{
		Kind:      kind,
		Op:        op,
		Host:      host,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(kind, err),
	}
}

// WithStatusCode records the HTTP status and adjusts kind and retryability.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Kind = KindAuth
		e.Retryable = false
	case code == http.StatusNotFound:
		e.Kind = KindNotFound
		e.Retryable = false
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		e.Retryable = true
	case code >= 400:
		e.Retryable = false
	}
	return e
}

func isRetryable(kind Kind, err error) bool {
	switch kind {
	case KindConnection, KindTimeout:
		return true
	case KindAuth, KindValidation, KindNotFound, KindDecode:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrForbidden)
		}
		return true
	}
}

// WrapConnectionError wraps a transport failure.
func WrapConnectionError(op, host string, err error) error {
	return New(KindConnection, op, host, err)
}

// WrapAuthError wraps a login or ticket failure.
func WrapAuthError(op, host string, err error) error {
	return New(KindAuth, op, host, err)
}

// WrapAPIError wraps a non-2xx response.
func WrapAPIError(op, host string, err error, statusCode int) error {
	return New(KindAPI, op, host, err).WithStatusCode(statusCode)
}

// IsRetryableError reports whether the next poll may succeed unchanged.
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}

// IsAuthError reports whether err means the session's credentials are no
// longer accepted.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Kind == KindAuth {
			return true
		}
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return true
		}
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "no ticket") ||
		strings.Contains(msg, "permission denied - invalid pve ticket")
}

// KindOf returns the kind of err, or "unknown" for unclassified errors.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return "unknown"
}
