package proxy

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/pacer"
	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/routing"
)

// Stable error codes returned in the error envelope.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnroutableModel     = "unroutable_model"
	CodeUnknownProvider     = "unknown_provider"
	CodeUnknownSubscription = "unknown_subscription"
	CodeRateLimited         = "rate_limited"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeUpstreamError       = "upstream_error"
	CodeInternalError       = "internal_error"
)

// HandleError maps an error to an HTTP status code and a client-safe error
// envelope. Unknown errors become a generic 500 so internals never leak.
func HandleError(err error) (int, *ErrorBody) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, newErrorBody(reqErr.Message, CodeInvalidRequest, reqErr.Param)
	}

	var routeErr *routing.UnroutableError
	if errors.As(err, &routeErr) {
		return http.StatusBadRequest, newErrorBody(routeErr.Error(), CodeUnroutableModel, "model")
	}

	var notFoundErr *providers.NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound, newErrorBody(notFoundErr.Error(), CodeUnknownProvider, "provider")
	}

	if errors.Is(err, gateway.ErrUnknownSubscription) {
		return http.StatusNotFound, newErrorBody(
			"no such request or subscriber", CodeUnknownSubscription, "")
	}

	var paceErr *pacer.RateLimitedError
	if errors.As(err, &paceErr) {
		return http.StatusTooManyRequests, newErrorBody(
			fmt.Sprintf("provider %q is at capacity, try again later", paceErr.Provider),
			CodeRateLimited, "")
	}

	var rateErr *providers.RateLimitError
	if errors.As(err, &rateErr) {
		return http.StatusTooManyRequests, newErrorBody(
			"upstream rate limit exceeded, try again later", CodeRateLimited, "")
	}

	var timeoutErr *providers.TimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout, newErrorBody(
			"upstream request timed out", CodeUpstreamTimeout, "")
	}

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		return http.StatusBadGateway, newErrorBody(
			"upstream request failed", CodeUpstreamError, "")
	}

	return http.StatusInternalServerError, newErrorBody(
		"internal server error", CodeInternalError, "")
}

func newErrorBody(message, code, param string) *ErrorBody {
	return &ErrorBody{Error: ErrorDetail{Message: message, Code: code, Param: param}}
}

// retryAfterSeconds extracts a Retry-After header value from rate limit
// errors, rounded up to whole seconds. Empty when no hint is available.
func retryAfterSeconds(err error) string {
	var paceErr *pacer.RateLimitedError
	if errors.As(err, &paceErr) && paceErr.RetryAfter > 0 {
		return fmt.Sprintf("%d", int(math.Ceil(paceErr.RetryAfter.Seconds())))
	}

	var rateErr *providers.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		return fmt.Sprintf("%d", int(math.Ceil(rateErr.RetryAfter.Seconds())))
	}
	return ""
}
