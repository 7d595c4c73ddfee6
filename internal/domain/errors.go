package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repositories and handlers when a record does
// not exist.
var ErrNotFound = errors.New("not found")

// ConfigError indicates invalid or missing run configuration (bad species
// list, unusable output root). Always fatal.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err with a configuration-error marker.
// Parameters:
//   - msg: human-readable description of the misconfiguration.
//   - err: underlying cause, may be nil.
// Returns:
//   - error: *ConfigError value.
func NewConfigError(msg string, err error) error {
	return &ConfigError{Msg: msg, Err: err}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// RateLimitError is returned by the API client when the service answered
// with HTTP 429. Handled internally by backoff and retry; only surfaces when
// retries are exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "rate limit exceeded"
}

// FetchError indicates a page or record could not be retrieved after all
// retries. Logged, the run continues with the next page or species.
type FetchError struct {
	Species string
	Cursor  string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %q (cursor %q): %v", e.Species, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError indicates a record could not be persisted. Systemic write
// errors (output root unwritable) abort the whole run; per-record ones are
// counted and skipped.
type WriteError struct {
	Species  string
	RecordID string
	Systemic bool
	Err      error
}

func (e *WriteError) Error() string {
	kind := "record"
	if e.Systemic {
		kind = "systemic"
	}
	return fmt.Sprintf("%s write error for %s/%s: %v", kind, e.Species, e.RecordID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsSystemicWrite reports whether err is a WriteError marked systemic.
func IsSystemicWrite(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Systemic
}
