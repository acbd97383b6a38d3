package utils

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
)

// retryableErrorCodes names the AWS error codes treated as transient
// throttling. Classification happens on the error's code, never on the Go
// exception/type name, so it also matches service errors re-wrapped by
// retry middleware.
var retryableErrorCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"LimitExceededException":                 true,
}

// IsThrottlingError reports whether err is a classified-retryable
// throttling error from the coordination store or stream service. Callers
// retry these with a fixed delay; all other errors propagate.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableErrorCodes[apiErr.ErrorCode()]
	}

	return false
}

// IsHTTP2StreamInitError reports whether err looks like a failure to
// establish the HTTP/2 stream underlying an EFO subscription. These are
// treated as normal reconnection triggers rather than fatal errors.
func IsHTTP2StreamInitError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "http2") || strings.Contains(msg, "stream error") ||
		strings.Contains(msg, "INTERNAL_ERROR")
}

// IsRetryableHTTPStatus reports whether a raw HTTP status code (as
// surfaced by a smithy response error) indicates a transient condition
// worth retrying.
func IsRetryableHTTPStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
