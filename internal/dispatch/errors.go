package dispatch

import (
	"context"
	"errors"
	"net"
)

// HTTPStatusError is implemented by errors that carry an upstream HTTP
// status code, such as the backend client's status errors.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// Classify maps an error to the stable "type" string used in the outgoing
// error body. It mirrors the taxonomy the upstream reports where possible.
func Classify(err error) string {
	if err == nil {
		return "unknown"
	}
	var all *AllFailedError
	if errors.As(err, &all) {
		if all.LastErr != nil {
			return Classify(all.LastErr)
		}
		return "no_credentials"
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatus(); {
		case code == 401 || code == 403:
			return "authentication_error"
		case code == 404:
			return "not_found_error"
		case code == 429:
			return "rate_limit_error"
		case code >= 500:
			return "upstream_error"
		default:
			return "invalid_request_error"
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout_error"
	case errors.Is(err, context.Canceled):
		return "request_canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "connection_error"
	}
	return "internal_error"
}
