package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound covers both missing items and items owned by someone else.
	ErrNotFound = errors.New("inventory: item not found")
	// ErrInvalidAdjustment indicates a zero or non-finite delta.
	ErrInvalidAdjustment = errors.New("inventory: adjustment must be non zero")
	// ErrNegativeResult indicates the adjustment would drive quantity below zero.
	ErrNegativeResult = errors.New("inventory: quantity cannot be negative")
	// ErrInvalidReason indicates an empty or oversized adjustment reason.
	ErrInvalidReason = errors.New("inventory: adjustment reason invalid")
	// ErrStorageTimeout is returned when a storage call exceeds its deadline. Retryable.
	ErrStorageTimeout = errors.New("inventory: storage timeout")
	// ErrIdempotencyConflict indicates an idempotency key in flight or reused for another item.
	ErrIdempotencyConflict = errors.New("inventory: idempotency key conflict")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("inventory: validation failed")
	// ErrQuantityRejected is returned by repositories when an atomic adjustment would go negative.
	ErrQuantityRejected = errors.New("inventory: atomic adjustment rejected")
	// ErrDuplicateRecord is returned by Append when a record with the same id exists.
	ErrDuplicateRecord = errors.New("inventory: duplicate ledger record")
)

// ValidationError lists every offending field with a message.
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
	return "inventory: validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PartialFailure reports that the item write and the ledger write diverged.
// The ledger invariant is broken until the item is reconciled.
type PartialFailure struct {
	ItemID        string
	ItemWritten   bool
	RecordWritten bool
	Err           error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("inventory: partial failure on item %s (item written=%t, record written=%t): %v",
		e.ItemID, e.ItemWritten, e.RecordWritten, e.Err)
}

func (e *PartialFailure) Unwrap() error {
	return e.Err
}
