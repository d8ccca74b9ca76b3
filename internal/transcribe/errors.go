package transcribe

import (
	"fmt"
	"net/http"
)

// AuthError means the service rejected our credentials. Never retried.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("transcription auth rejected (%d): %s", e.Status, e.Message)
}

// APIError is a non-auth HTTP-level rejection from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription failed (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the status class is worth another attempt.
func (e *APIError) Retryable() bool {
	switch {
	case e.Status == http.StatusRequestTimeout:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// TransportError means no usable HTTP response arrived at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transcription request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetryExhaustedError reports that every attempt failed with a transient
// error. Wraps the final attempt's error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("transcription failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

func retryable(err error) bool {
	switch e := err.(type) {
	case *TransportError:
		return true
	case *APIError:
		return e.Retryable()
	default:
		return false
	}
}
