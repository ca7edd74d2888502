// api/amplitude/errors.go
package amplitude

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials means AMPLITUDE_API_KEY or AMPLITUDE_SECRET_KEY is
// unset. This is a startup configuration problem and must not be retried.
var ErrMissingCredentials = errors.New("AMPLITUDE_API_KEY and AMPLITUDE_SECRET_KEY must be set")

// TransportError covers HTTP-level failures against the export endpoint:
// connection errors, timeouts, and non-2xx responses. Retryable.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("amplitude export request failed: %v", e.Err)
	}
	return fmt.Sprintf("amplitude export returned status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedLineError means a line in the export archive was not valid JSON.
// It aborts the whole fetch unless the client is configured to skip.
type MalformedLineError struct {
	Member string // archive member name, "" for non-zip responses
	Line   int    // 1-based line number within the member/stream
	Err    error
}

func (e *MalformedLineError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("malformed JSON at %s:%d: %v", e.Member, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed JSON at line %d: %v", e.Line, e.Err)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }
