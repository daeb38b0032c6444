package rpc

import "fmt"

// TransportError represents failures reaching the backend: connection errors,
// cancelled contexts and non-2xx responses.
type TransportError struct {
	Method     string // The backend method that was called (e.g., "search_roms")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Response body or network error text
	Err        error  // Underlying error, if any
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error calling %s (HTTP %d): %s", e.Method, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("transport error calling %s: %s", e.Method, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError is returned when the backend answered with success=false.
type BackendError struct {
	Method  string // The backend method that was called
	Message string // Failure description carried in the envelope result
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected %s", e.Method)
	}

	return fmt.Sprintf("backend rejected %s: %s", e.Method, e.Message)
}

// DecodeError is returned when the envelope or its result does not fit the
// requested type.
type DecodeError struct {
	Method string // The backend method that was called
	Err    error  // Underlying JSON error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s response: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
