package model

import (
	"errors"
	"fmt"
)

// APIError is a non-success reply from a model API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model api error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimit reports whether err is a rate-limit reply.
func IsRateLimit(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == 429
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == 401 || ae.StatusCode == 403
}

// IsRetryable reports whether the call may be retried as-is.
func IsRetryable(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.StatusCode {
	case 429, 500, 502, 503, 529:
		return true
	}
	return false
}
