package splitwise

import (
	"errors"
	"fmt"
)

// TransientError is a transport failure worth retrying: the request never
// completed, or the server answered 429 or 5xx.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient: %v", e.Err)
	}
	return fmt.Sprintf("transient: status %d: %v", e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is an application-level rejection. It is never retried.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("splitwise: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsUnauthorized reports whether the API rejected the credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403)
}
