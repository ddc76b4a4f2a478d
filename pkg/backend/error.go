package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error wraps a vendor failure with status metadata. Every client returns
// failures as *Error so the execution engine can fail over uniformly; it
// never reaches the layer's callers raw.
type Error struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "backend error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("backend error (status=%d)", e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether an error looks like a passing condition
// (timeout, rate limit, upstream outage) rather than a permanent one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var backendErr *Error
	if errors.As(err, &backendErr) {
		if backendErr.Temporary {
			return true
		}
		if backendErr.Status == 429 || (backendErr.Status >= 500 && backendErr.Status <= 599) {
			return true
		}
	}
	return false
}
