package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrQuotaExhausted  = errors.New("all api keys exhausted")
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotFound        = errors.New("resource not found")
)

// RequestFailedError is returned when every attempt of a request failed for
// reasons other than quota. Err is the last cause.
type RequestFailedError struct {
	Attempts int
	Err      error
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}
