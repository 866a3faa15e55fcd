package remote

import (
	"context"
	"errors"
	"net"
)

var (
	ErrNotFound           = errors.New("remote file not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrRateLimited        = errors.New("rate limited by remote storage")
	ErrUnsupportedContent = errors.New("content cannot be downloaded as bytes")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
)

// FailureClass is a coarse failure category used for outcome labels and
// metrics. It is unrelated to process exit codes.
type FailureClass string

const (
	ClassNone        FailureClass = ""
	ClassCanceled    FailureClass = "canceled"
	ClassAuth        FailureClass = "auth"
	ClassPermission  FailureClass = "permission"
	ClassNotFound    FailureClass = "not_found"
	ClassRateLimited FailureClass = "rate_limited"
	ClassUnsupported FailureClass = "unsupported"
	ClassChecksum    FailureClass = "checksum"
	ClassNetwork     FailureClass = "network"
	ClassUnknown     FailureClass = "unknown"
)

// Classify maps err onto a FailureClass. Only sentinel errors and standard
// library error types are inspected; backends are expected to wrap SDK errors
// with the sentinels above.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}
	switch {
	case errors.Is(err, ErrNotSignedIn):
		return ClassAuth
	case errors.Is(err, ErrPermissionDenied):
		return ClassPermission
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrUnsupportedContent):
		return ClassUnsupported
	case errors.Is(err, ErrChecksumMismatch):
		return ClassChecksum
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ClassNetwork
	}
	return ClassUnknown
}

// ClassifyHTTPStatus maps a non-success HTTP status code to the matching
// sentinel, or nil when the status carries no specific meaning.
func ClassifyHTTPStatus(code int) error {
	switch code {
	case 401:
		return ErrNotSignedIn
	case 403:
		return ErrPermissionDenied
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimited
	default:
		return nil
	}
}
