package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrDriverUnavailable is returned by a builder that has no client
// implementation for a provider's driver.
var ErrDriverUnavailable = errors.New("client driver unavailable")

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error [%d]: %s", e.Provider, e.StatusCode, e.Message)
}

// RateLimited reports whether the provider answered with HTTP 429.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RateLimitSignal returns a definite rate-limit verdict for errors whose
// cause is known, or nil to let the classifier inspect FailureText.
// 429 is a rate limit. 503 and 529 (overloaded) are left to the classifier.
// Any other HTTP status and an expired deadline are not rate limits.
func RateLimitSignal(err error) *bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return verdict(false)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode == 0 {
		return nil
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return verdict(true)
	case http.StatusServiceUnavailable, statusOverloaded:
		return nil
	default:
		return verdict(false)
	}
}

// statusOverloaded is Anthropic's overloaded status.
const statusOverloaded = 529

func verdict(limited bool) *bool {
	return &limited
}

// FailureText is the part of err worth classifying. The provider name and
// request URL are stripped, since provider patterns usually contain both.
func FailureText(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 0 {
			return apiErr.Message
		}
		return fmt.Sprintf("[%d] %s", apiErr.StatusCode, apiErr.Message)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// errorBody is the provider's error payload, or the status text when the
// payload is empty.
func errorBody(body string, status int) string {
	if body == "" {
		return http.StatusText(status)
	}
	return body
}
