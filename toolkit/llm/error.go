package llm

import (
	"fmt"
)

// StreamError is an error object sent inside an otherwise successful stream.
// Code is kept as text since providers send it as a string, a number or null.
type StreamError struct {
	Code    string
	Type    string
	Message string
}

func (e StreamError) Error() string {
	code := e.Code
	if code == "" {
		code = e.Type
	}
	if code == "" {
		return fmt.Sprintf("stream error: %s", e.Message)
	}
	return fmt.Sprintf("stream error (%s): %s", code, e.Message)
}

// APIError is a non-ok HTTP response from the completions endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("non-ok status (%d) from model API: %s", e.StatusCode, e.Body)
}
