package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"
)

// Kind classifies every failure a caller can receive from the client.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindSecurity    Kind = "security"
	KindRateLimited Kind = "rate_limited"
	KindNotFound    Kind = "not_found"
	KindServer      Kind = "server"
	KindNetwork     Kind = "network"
	KindClient      Kind = "client"
	KindDecode      Kind = "decode"
)

var (
	ErrAuth        = errors.New("authentication required")
	ErrSecurity    = errors.New("request rejected by security check")
	ErrRateLimited = errors.New("too many requests")
	ErrNotFound    = errors.New("resource not found")
	ErrServer      = errors.New("server error")
	ErrNetwork     = errors.New("network error")
	ErrClient      = errors.New("request rejected")
	ErrDecode      = errors.New("invalid response")
)

var sentinels = map[Kind]error{
	KindAuth:        ErrAuth,
	KindSecurity:    ErrSecurity,
	KindRateLimited: ErrRateLimited,
	KindNotFound:    ErrNotFound,
	KindServer:      ErrServer,
	KindNetwork:     ErrNetwork,
	KindClient:      ErrClient,
	KindDecode:      ErrDecode,
}

// Error is the only error type returned by Client request methods.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	Status     int    // 0 for transport failures
	Code       string // server error code, if any
	Message    string // server or client message safe to show users
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Kind)
	if e.Status != 0 {
		msg += " status=" + strconv.Itoa(e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match on the kind sentinels, e.g. errors.Is(err, ErrNetwork).
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// UserMessage returns text suitable for a notification.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindAuth:
		return "Please log in to continue"
	case KindSecurity:
		return "Security check failed. Please refresh and try again"
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Too many requests. Please retry in %d seconds", int(e.RetryAfter.Seconds()))
		}
		return "Too many requests. Please try again later"
	case KindNotFound:
		return "The requested resource was not found"
	case KindServer:
		return "Server error. Please try again later"
	case KindNetwork:
		return "Network error. Please check your connection"
	default:
		return "Something went wrong"
	}
}

// KindOf returns the classification of err, or "" when err did not come
// from the client.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsRetryable reports whether repeating the same request may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	}
	return false
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindSecurity
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func classifyTransportError(ctx context.Context, method, path string, err error) *Error {
	e := &Error{Kind: KindNetwork, Method: method, Path: path, Err: err}
	switch {
	case isTimeoutError(ctx, err):
		e.Message = "Request timed out"
	case isConnectionError(err):
		e.Message = "Unable to reach the server"
	}
	return e
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
