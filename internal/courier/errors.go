package courier

import (
	"errors"
	"fmt"
)

// ErrGateway matches every failure returned by the courier client.
var ErrGateway = errors.New("courier gateway error")

// TransportError reports that the courier could not be reached after all attempts.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("courier %s: transport failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrGateway }

// HTTPError reports a non-2xx answer from the courier. It is never retried.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("courier %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("courier %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *HTTPError) Is(target error) bool { return target == ErrGateway }

func (e *HTTPError) ServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// DecodeError reports a 2xx response whose body is not a JSON object.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("courier %s: invalid response body: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrGateway }
