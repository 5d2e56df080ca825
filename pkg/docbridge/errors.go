package docbridge

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind identifies one failure class of the taxonomy.
type ErrorKind string

const (
	KindTimeout              ErrorKind = "timeout"
	KindNetworkUnreachable   ErrorKind = "network_unreachable"
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindPermissionDenied     ErrorKind = "permission_denied"
	KindSchemaMissing        ErrorKind = "schema_missing"
	KindNotFound             ErrorKind = "not_found"
	KindServerFault          ErrorKind = "server_fault"
	KindUnclassified         ErrorKind = "unclassified"
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrTimeout              = errors.New("request timed out")
	ErrNetworkUnreachable   = errors.New("network unreachable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSchemaMissing        = errors.New("resource schema missing")
	ErrNotFound             = errors.New("not found")
	ErrServerFault          = errors.New("server fault")
	ErrUnclassified         = errors.New("unclassified error")
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired     = errors.New("config is required")
	ErrBaseURLRequired    = errors.New("base URL is required")
	ErrResourceRequired   = errors.New("primary resource is required")
	ErrInvalidBaseURL     = errors.New("invalid base URL")
	ErrInvalidTimeout     = errors.New("timeout must not be negative")
	ErrInvalidMaxRetries  = errors.New("max retries must not be negative")
	ErrMalformedEnvelope  = errors.New("malformed response envelope")
	ErrSecurityTokenStale = errors.New("security token rejected by server")
	ErrTokenNotFound      = errors.New("security token not found")
	ErrStoreClosed        = errors.New("token store closed")
)

var kindSentinels = map[ErrorKind]error{
	KindTimeout:              ErrTimeout,
	KindNetworkUnreachable:   ErrNetworkUnreachable,
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindPermissionDenied:     ErrPermissionDenied,
	KindSchemaMissing:        ErrSchemaMissing,
	KindNotFound:             ErrNotFound,
	KindServerFault:          ErrServerFault,
	KindUnclassified:         ErrUnclassified,
}

// Error is a classified failure from the resource server or the transport.
type Error struct {
	Kind       ErrorKind `json:"kind"                  yaml:"kind"`
	StatusCode int       `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Resource   string    `json:"resource,omitempty"    yaml:"resource,omitempty"`
	Path       string    `json:"path,omitempty"        yaml:"path,omitempty"`
	Message    string    `json:"message,omitempty"     yaml:"message,omitempty"`
	Hint       string    `json:"hint,omitempty"        yaml:"hint,omitempty"`
	Err        error     `json:"-"                     yaml:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("request to %s timed out", e.Path)
	case KindNetworkUnreachable:
		if e.Err != nil {
			return fmt.Sprintf("network unreachable: %v", e.Err)
		}

		return "network unreachable"
	case KindAuthenticationFailed:
		return "authentication failed (status 401): check the auth token"
	case KindPermissionDenied:
		return "permission denied (status 403)"
	case KindSchemaMissing:
		if e.Hint != "" {
			return fmt.Sprintf("resource %q not found: %s", e.Resource, e.Hint)
		}

		return fmt.Sprintf("resource %q not found", e.Resource)
	case KindNotFound:
		return fmt.Sprintf("%s not found", e.Path)
	case KindServerFault:
		if e.Message != "" {
			return "server error (status 500): " + e.Message
		}

		return "server error (status 500)"
	default:
		if e.Message != "" {
			return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
		}

		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]

	return ok && sentinel == target
}

// KindOf returns the kind of a classified error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	return ""
}

// IsSchemaMissing checks if the error reports a missing resource collection.
func IsSchemaMissing(err error) bool {
	return errors.Is(err, ErrSchemaMissing)
}

// IsTimeout checks if the error is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotFound checks if the error is a 404 unrelated to schema.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized checks if the error is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// IsForbidden checks if the error is a permission failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// NewTimeoutError builds a Timeout failure for path.
func NewTimeoutError(path string, cause error) *Error {
	return &Error{Kind: KindTimeout, Path: path, Err: cause}
}

// NewNetworkError builds a NetworkUnreachable failure for path.
func NewNetworkError(path string, cause error) *Error {
	return &Error{Kind: KindNetworkUnreachable, Path: path, Err: cause}
}

// Retryable reports whether a failed item may be attempted again.
// Schema absence cannot change between attempts, and a canceled caller wants no more work.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if IsSchemaMissing(err) || errors.Is(err, context.Canceled) {
		return false
	}

	return true
}
