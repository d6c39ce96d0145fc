package booking

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrBusy                = errors.New("another booking operation is in progress")
	ErrInvalidTransition   = errors.New("operation not allowed in current state")
	ErrClosed              = errors.New("booking flow closed")
	ErrNotAuthenticated    = errors.New("login required to book")
	ErrNoPaymentOrder      = errors.New("no payment order to pay")
	ErrAmountMismatch      = errors.New("payment order amount does not match booking total")
	ErrGatewayLoad         = errors.New("payment gateway unavailable")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrUserCancelled       = errors.New("payment cancelled by user")
)

// ValidationError carries field-level messages for inline display.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Field returns the message for one field, or "".
func (e *ValidationError) Field(name string) string {
	return e.Fields[name]
}
