package api

import "fmt"

// StatusError is returned when the server answered with anything other
// than 200 OK. Reason is the status text and Body the raw response.
type StatusError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API request failed with status %d (%s)", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("API request failed with status %d (%s): %s", e.StatusCode, e.Reason, e.Body)
}

// NetworkError is returned when the request never completed: the
// connection was refused, timed out, or the body could not be read.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to execute request %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
