package apiclient

import "fmt"

// APIError carries a non-2xx response. Client-class statuses surface it
// directly; server-class statuses appear as the Last error of a ServerError.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s", e.Status)
}

// ServerError surfaces a call that kept failing with server-class or
// transport errors until the retry budget ran out.
type ServerError struct {
	Attempts int
	Last     error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ServerError) Unwrap() error { return e.Last }

// TransportError wraps network and per-attempt deadline failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
