package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrFetchExhausted is returned when a request kept failing transiently
// until the retry budget ran out. The last transient error is wrapped too.
var ErrFetchExhausted = errors.New("fetch retries exhausted")

// TransientError is a failure worth retrying: a transport error or a
// retryable upstream status.
type TransientError struct {
	URL        string
	StatusCode int // zero for transport errors
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("transient failure requesting %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response that was not retried by the client.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, truncate(e.Body))
}

// DecodeError reports a successful response whose body did not have the
// expected shape.
type DecodeError struct {
	URL        string
	StatusCode int
	Body       []byte
	Context    string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s from %s (status %d): %v: %s",
		e.Context, e.URL, e.StatusCode, e.Err, truncate(e.Body))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRetryableStatus reports whether the client retries a response with this status.
func IsRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

const maxBodyInError = 512

func truncate(body []byte) string {
	if len(body) <= maxBodyInError {
		return string(body)
	}
	return string(body[:maxBodyInError]) + "..."
}
