package llm

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx HTTP response from a model backend.
type APIError struct {
	// Provider names the backend, or "llm" when raised by the shared
	// HTTP client before provider attribution.
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewAPIError creates an APIError from an HTTP response.
func NewAPIError(provider string, statusCode int, body string) *APIError {
	return &APIError{Provider: provider, StatusCode: statusCode, Body: body}
}

// AsAPIError extracts an APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// WrapError annotates an error with the provider it came from. APIError
// values raised by the shared HTTP client are re-attributed instead of
// double-wrapped.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Provider == "" || apiErr.Provider == "llm") {
		apiErr.Provider = provider
		return err
	}
	return fmt.Errorf("%s: %w", provider, err)
}
