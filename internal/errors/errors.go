package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Base error types
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidSession   = errors.New("invalid session")
	ErrNoHostsFound     = errors.New("no hosts found")
	ErrNoGraphsProduced = errors.New("no graphs produced")
	ErrWebLoginFailed   = errors.New("web login failed")
	ErrBuild            = errors.New("report build failed")
	ErrUpstream         = errors.New("upstream error")
	ErrInternal         = errors.New("internal error")
)

// Kind represents the category of a report pipeline failure
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidSession   Kind = "invalid_session"
	KindNoHostsFound     Kind = "no_hosts_found"
	KindNoGraphsProduced Kind = "no_graphs_produced"
	KindWebLoginFailed   Kind = "web_login_failed"
	KindBuild            Kind = "build_error"
	KindUpstream         Kind = "upstream_error"
	KindInternal         Kind = "internal"
)

var sentinels = map[Kind]error{
	KindInvalidInput:     ErrInvalidInput,
	KindInvalidSession:   ErrInvalidSession,
	KindNoHostsFound:     ErrNoHostsFound,
	KindNoGraphsProduced: ErrNoGraphsProduced,
	KindWebLoginFailed:   ErrWebLoginFailed,
	KindBuild:            ErrBuild,
	KindUpstream:         ErrUpstream,
	KindInternal:         ErrInternal,
}

// ReportError is a structured error for report generation
type ReportError struct {
	Kind       Kind
	Op         string // Operation that failed (e.g., "normalize", "host.get")
	Detail     string // Extra context (never shown to clients)
	Err        error  // Underlying error
	StatusCode int    // Upstream HTTP status code if applicable
	Timestamp  time.Time
}

func (e *ReportError) Error() string {
	msg := e.Op
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", msg, e.Err)
	}
	return msg + " failed"
}

func (e *ReportError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ReportError) Is(target error) bool {
	if target == nil {
		return false
	}
	if sentinel, ok := sentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a ReportError without an underlying cause
func New(kind Kind, op, detail string) *ReportError {
	return &ReportError{
		Kind:      kind,
		Op:        op,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// Wrap creates a ReportError around err
func Wrap(kind Kind, op string, err error) *ReportError {
	return &ReportError{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithStatusCode adds the upstream HTTP status code to the error
func (e *ReportError) WithStatusCode(code int) *ReportError {
	e.StatusCode = code
	return e
}

// WithDetail adds diagnostic context to the error
func (e *ReportError) WithDetail(detail string) *ReportError {
	e.Detail = detail
	return e
}

// Helper functions

// InvalidInput creates an input validation error
func InvalidInput(op, detail string) error {
	return New(KindInvalidInput, op, detail)
}

// WrapUpstream wraps a remote API or transport error. An HTTP status
// carried anywhere in err's chain is kept as StatusCode.
func WrapUpstream(op string, err error) error {
	wrapped := Wrap(KindUpstream, op, err)
	var coded interface{ HTTPStatusCode() int }
	if errors.As(err, &coded) {
		wrapped.WithStatusCode(coded.HTTPStatusCode())
	}
	return wrapped
}

// WrapBuild wraps a report assembly error
func WrapBuild(op string, err error) error {
	return Wrap(KindBuild, op, err)
}

// KindOf returns the Kind of err, or KindInternal when err carries none
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var repErr *ReportError
	if errors.As(err, &repErr) {
		return repErr.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// HTTPStatus maps a failure kind to the status code returned to clients
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput, KindNoHostsFound, KindNoGraphsProduced:
		return http.StatusBadRequest
	case KindInvalidSession:
		return http.StatusForbidden
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
