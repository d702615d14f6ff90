package providers

import (
	"errors"
	"net/http"
	"strings"

	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// ErrUnsupportedOperation marks a request whose operation has no route on
// this adapter.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// ServerErrorStatusThreshold is the floor of the HTTP 5xx range.
const ServerErrorStatusThreshold = 500

// errorCodeClasses maps substrings of vendor error codes to an ErrorType.
// Order matters: the first marker found wins.
var errorCodeClasses = []struct {
	markers []string
	class   llmerrors.ErrorType
}{
	{markers: []string{"rate", "limit"}, class: llmerrors.ErrorTypeRateLimit},
	{markers: []string{"timeout"}, class: llmerrors.ErrorTypeTimeout},
	{markers: []string{"auth", "unauthorized"}, class: llmerrors.ErrorTypeAuth},
	{markers: []string{"permission", "forbidden"}, class: llmerrors.ErrorTypePermission},
	{markers: []string{"quota"}, class: llmerrors.ErrorTypeQuota},
}

// classifyErrorType determines ErrorType from HTTP status and provider error
// codes. Vendor codes take precedence over status codes because providers
// sometimes return 400s for conditions that are really rate limits or quota
// exhaustion.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	for _, c := range errorCodeClasses {
		for _, marker := range c.markers {
			if strings.Contains(lowerCode, marker) {
				return c.class
			}
		}
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest:
		return llmerrors.ErrorTypeValidation
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return llmerrors.ErrorTypeProvider
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}
