// Package promptdeck provides a Go client for the promptdeck prompt
// execution API.
package promptdeck

import (
	"errors"
	"fmt"
)

// Error represents an error from the promptdeck API with the HTTP status
// code and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("promptdeck: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsMalformedCursor returns true for a rejected pagination cursor.
func IsMalformedCursor(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "MALFORMED_CURSOR"
	}
	return false
}
