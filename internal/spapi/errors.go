package spapi

import (
	"fmt"
	"time"
)

// AuthError is a failed refresh-token exchange. It is fatal for the current sync.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("lwa token exchange failed: http %d: %s", e.Status, truncate(e.Body, 500))
}

// RetryExhaustedError means the API kept rate limiting past the retry budget.
type RetryExhaustedError struct {
	Path     string
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("rate limited on %s: gave up after %d attempts", e.Path, e.Attempts)
}

// ReportFailedError is a report job that ended CANCELLED or FATAL.
type ReportFailedError struct {
	ReportID string
	Status   ReportStatus
}

func (e *ReportFailedError) Error() string {
	return fmt.Sprintf("report %s: %s", e.ReportID, e.Status)
}

// ReportTimeoutError is a report job that never reached DONE within the poll budget.
// The job itself is abandoned, not cancelled.
type ReportTimeoutError struct {
	ReportID string
	Attempts int
	Waited   time.Duration
}

func (e *ReportTimeoutError) Error() string {
	return fmt.Sprintf("report %s not done after %d polls (%s)", e.ReportID, e.Attempts, e.Waited)
}

// DecodeError is a malformed compressed or structured payload.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// APIError is a non-success response where the caller needed success.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spapi %s: http %d: %s", e.Op, e.StatusCode, truncate(e.Body, 500))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
