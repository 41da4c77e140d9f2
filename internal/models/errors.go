package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers match with errors.Is.
var (
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrRetrievalTimeout     = errors.New("retrieval timeout")
	ErrStoreNotFound        = errors.New("store not found")
	ErrStoreExists          = errors.New("store already exists")
	ErrStoreInactive        = errors.New("store is inactive")
	ErrDocumentNotFound     = errors.New("document not found")
)

// Machine-readable reason codes attached to rejected operations.
const (
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonUnsupportedFormat    = "unsupported_format"
	ReasonInvalidConfiguration = "invalid_configuration"
	ReasonRetrievalTimeout     = "retrieval_timeout"
	ReasonStoreExists          = "store_exists"
)

// Rejection carries a reason code and a human-readable message alongside
// the sentinel it wraps, so callers get both errors.Is matching and a
// code they can return over the wire.
type Rejection struct {
	Reason  string
	Message string
	err     error
}

// Reject builds a Rejection wrapping sentinel with the given code.
func Reject(sentinel error, reason, format string, args ...any) *Rejection {
	return &Rejection{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		err:     sentinel,
	}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func (r *Rejection) Unwrap() error { return r.err }
