package syncer

import (
	"errors"

	"sellersync/internal/credentials"
	"sellersync/internal/spapi"
)

// Kind names the failure class of a sync error for logs and alerts.
func Kind(err error) string {
	var (
		authErr      *spapi.AuthError
		exhausted    *spapi.RetryExhaustedError
		reportFailed *spapi.ReportFailedError
		timeout      *spapi.ReportTimeoutError
		decodeErr    *spapi.DecodeError
		apiErr       *spapi.APIError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, credentials.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrMultiDayRange):
		return "multi_day_range"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &exhausted):
		return "retry_exhausted"
	case errors.As(err, &reportFailed):
		return "report_failed"
	case errors.As(err, &timeout):
		return "report_timeout"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &apiErr):
		return "api"
	default:
		return "other"
	}
}
