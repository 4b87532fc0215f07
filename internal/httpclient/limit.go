package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxResponseBytes caps upstream JSON bodies when no limit is configured.
const DefaultMaxResponseBytes int64 = 4 << 20

// ErrResponseTooLarge is matched by every *ResponseTooLargeError.
var ErrResponseTooLarge = errors.New("response body too large")

// ResponseTooLargeError carries the limit that was exceeded.
type ResponseTooLargeError struct {
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("%v: limit is %d bytes", ErrResponseTooLarge, e.Limit)
}

func (e *ResponseTooLargeError) Unwrap() error { return ErrResponseTooLarge }

// ReadBody reads r until EOF, failing once more than limit bytes arrive.
// A non-positive limit falls back to DefaultMaxResponseBytes.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(data)) > limit:
		return nil, &ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
