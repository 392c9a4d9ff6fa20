package api

import (
	"errors"
	"fmt"
)

var (
	ErrNetworkFailure    = errors.New("network failure")
	ErrMalformedResponse = errors.New("malformed response")
)

// NetworkError means the request never produced an HTTP response: the
// connection failed, the request timed out or the caller gave up.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetworkFailure }

// RemoteError is a non-2xx response, or a 2xx response whose body did not
// match the expected schema. Message is the server's text when it sent one.
type RemoteError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status of the response
func (e *RemoteError) StatusCode() int { return e.Status }

// IsStatus reports whether err is a RemoteError with the given status
func IsStatus(err error, status int) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == status
}
