package processing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrQueueFull is returned by Pool.Submit when no slot is free.
	ErrQueueFull = errors.New("processing queue full")
	// ErrDuplicate is returned when the library already holds the extracted id.
	ErrDuplicate = errors.New("document already in library")
	// ErrRejected is returned when the library refuses a result, e.g. no id.
	ErrRejected = errors.New("document rejected by library")
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrTooLarge is returned by Stage when an upload exceeds its limit.
	ErrTooLarge = errors.New("file exceeds limit")
)

// Error is a non-2xx answer from the processing service.
type Error struct {
	StatusCode int
	Message    string
	Op         string // Operation that failed (e.g., "Extract")
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err indicates a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnprocessable reports whether the service could not extract anything from
// the file (422).
func IsUnprocessable(err error) bool {
	return hasStatus(err, http.StatusUnprocessableEntity)
}

// IsBadRequest reports whether the service refused the input (400).
func IsBadRequest(err error) bool {
	return hasStatus(err, http.StatusBadRequest)
}

func hasStatus(err error, code int) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == code
	}
	return false
}
