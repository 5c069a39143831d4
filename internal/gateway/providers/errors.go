package providers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
)

// serverErrorThreshold is the HTTP status floor for provider-side errors.
const serverErrorThreshold = 500

// classifyKind determines the error Kind from an HTTP status and a
// provider error code. The provider's own code takes precedence because
// several providers return specific failure modes under generic statuses.
func classifyKind(statusCode int, errorCode string) gerrors.Kind {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return gerrors.KindRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return gerrors.KindTimeout
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized"):
		return gerrors.KindAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return gerrors.KindAuth
	case strings.Contains(lowerCode, "quota") || strings.Contains(lowerCode, "billing"):
		return gerrors.KindQuota
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return gerrors.KindRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return gerrors.KindAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return gerrors.KindTimeout
	case http.StatusBadRequest:
		return gerrors.KindValidation
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return gerrors.KindProvider
	default:
		if statusCode >= serverErrorThreshold {
			return gerrors.KindProvider
		}
		return gerrors.KindUnknown
	}
}

// retryAfterSeconds parses a Retry-After header value as whole seconds.
// HTTP-date values are left to the retry middleware's backoff instead.
func retryAfterSeconds(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return secs
	}
	return 0
}
