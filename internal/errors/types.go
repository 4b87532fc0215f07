package errors

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
)

// TransportFailure classifies an outbound call failure that happened before
// any HTTP response was received.
type TransportFailure int

const (
	// FailureNone means err was nil.
	FailureNone TransportFailure = iota
	// FailureTimeout covers deadline expiry and cancellation.
	FailureTimeout
	// FailureUnavailable covers refused connections, DNS errors, resets and open breakers.
	FailureUnavailable
)

func (f TransportFailure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ClassifyTransport maps an error returned by http.Client.Do.
func ClassifyTransport(err error) TransportFailure {
	if err == nil {
		return FailureNone
	}
	if IsTimeout(err) {
		return FailureTimeout
	}
	return FailureUnavailable
}

// IsTimeout reports whether err is a deadline expiry or a cancellation.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsNetworkError reports whether err is a connection-level failure: dial,
// DNS, reset or an open breaker.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return IsCircuitOpen(err)
}
