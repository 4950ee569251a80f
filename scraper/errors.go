package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind labels a failed fetch in logs, metrics and the run summary.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	// KindBlocked is Amazon's robot check, served as HTTP 503.
	KindBlocked ErrorKind = "blocked"
	KindOther   ErrorKind = "other"
)

// FetchError is a classified transport or HTTP failure.
type FetchError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. A missing page
// stays missing.
func (e *FetchError) Retryable() bool {
	return e.Kind != KindNotFound
}

var statusKinds = map[int]ErrorKind{
	http.StatusForbidden:          KindForbidden,
	http.StatusNotFound:           KindNotFound,
	http.StatusTooManyRequests:    KindRateLimited,
	http.StatusServiceUnavailable: KindBlocked,
}

// classifyError maps a colly error and response status to a FetchError.
// It returns nil when there is nothing to classify.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}

	kind := KindOther
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &opErr):
		kind = KindConnection
	default:
		if k, ok := statusKinds[statusCode]; ok {
			kind = k
		}
	}
	return &FetchError{Kind: kind, Status: statusCode, Err: err}
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return string(KindOther)
}

func retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return err != nil
}
