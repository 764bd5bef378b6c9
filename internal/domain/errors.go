package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode marks an inbound message that cannot become an InventoryChangeEvent.
	ErrDecode = errors.New("inventory change event could not be decoded")

	// ErrSyncTimeout marks a sync attempt that got no vendor response within the wait bound.
	ErrSyncTimeout = errors.New("inventory sync timed out")
)

// Decode failure reasons, used as dead-letter reasons and metric labels
const (
	DecodeReasonContract     = "contract"
	DecodeReasonMalformed    = "malformed_json"
	DecodeReasonInvalidEvent = "invalid_event"
)

// DecodeError describes why a message was rejected
type DecodeError struct {
	Reason string
	Err    error
}

// NewDecodeError creates a DecodeError
func NewDecodeError(reason string, err error) *DecodeError {
	return &DecodeError{Reason: reason, Err: err}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrDecode.Error(), e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// AsDecodeError returns the DecodeError in err's chain, if any
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
