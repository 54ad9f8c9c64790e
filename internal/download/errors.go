package download

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

// ErrInvalidTransition is returned by pause/resume when the transfer isn't in
// a state the operation applies to.
var ErrInvalidTransition = errors.New("invalid transfer state transition")

// ErrCancelled marks a transfer stopped by its caller. It is not a failure:
// the coordinator resets the resource to not_started instead of failed.
var ErrCancelled = errors.New("transfer cancelled")

// RetryableError is implemented by taxonomy errors that know whether a retry
// can help. Callers use it to decide between automatic resume and prompting.
type RetryableError interface {
	error
	Retryable() bool
}

// AuthError represents a missing or rejected credential. Surfaced before any
// byte moves; never retried.
type AuthError struct {
	Operation string // the hub operation that required authentication
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Retryable() bool { return false }

// NotFoundError represents an absent repository or file on the hub.
type NotFoundError struct {
	ResourceID string
	Path       string // empty when the whole repository is missing
	Err        error
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("file %q not found in %s", e.Path, e.ResourceID)
	}
	return fmt.Sprintf("resource %s not found", e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Retryable() bool { return false }

// NetworkError represents transport failures and server-side errors:
// connection resets, timeouts, 5xx responses. Connection-level failures
// (no status code), 5xx and 429 throttling are retryable; any other 4xx
// means the request itself is bad and retrying cannot help.
type NetworkError struct {
	Operation  string // the operation that failed (e.g. "list_files", "fetch")
	StatusCode int    // HTTP status code, 0 for non-HTTP failures
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}

	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// InsufficientStorageError is produced by the pre-flight disk space check.
type InsufficientStorageError struct {
	Required  int64
	Available int64
}

func (e *InsufficientStorageError) Error() string {
	return fmt.Sprintf("insufficient storage: need %s, have %s",
		humanize.Bytes(uint64(e.Required)), humanize.Bytes(uint64(e.Available)))
}

func (e *InsufficientStorageError) Retryable() bool { return false }

// ChecksumError means a downloaded file failed integrity verification. The
// partial data can't be trusted, so resume is not an option: callers must
// start a fresh download.
type ChecksumError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

func (e *ChecksumError) Retryable() bool { return false }

// IsRetryable reports whether err carries a Retryable() hint and it is true.
// Errors outside the taxonomy report false here; the retry policy applies
// its own network heuristics on top.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	return false
}
