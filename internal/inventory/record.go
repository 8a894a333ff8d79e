package inventory

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxReasonLength bounds adjustment reasons.
const DefaultMaxReasonLength = 200

// NewRecordID returns a time-ordered identifier so records created in the same
// millisecond still sort by creation.
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// isSystemReason reports labels the service writes itself. They are exempt
// from the configured reason limit.
func isSystemReason(reason string) bool {
	return reason == InitialStockReason || reason == ReconciliationReason
}

// RecordBuilder produces adjustment records.
type RecordBuilder struct {
	MaxReasonLength int
	NewID           func() string
}

// Build validates the inputs and returns a new adjustment record.
func (b RecordBuilder) Build(itemID string, previous, next, delta float64, reason, ownerID string, now time.Time) (Adjustment, error) {
	reason = strings.TrimSpace(reason)
	maxLen := b.MaxReasonLength
	if maxLen <= 0 {
		maxLen = DefaultMaxReasonLength
	}
	if reason == "" || (utf8.RuneCountInString(reason) > maxLen && !isSystemReason(reason)) {
		return Adjustment{}, ErrInvalidReason
	}
	if delta == 0 {
		return Adjustment{}, ErrInvalidAdjustment
	}
	if next < 0 {
		return Adjustment{}, ErrNegativeResult
	}
	if math.Abs(next-(previous+delta)) > 1e-9*math.Max(1, math.Abs(next)) {
		return Adjustment{}, ErrInvalidAdjustment
	}
	newID := b.NewID
	if newID == nil {
		newID = NewRecordID
	}
	return Adjustment{
		ID:               newID(),
		ItemID:           itemID,
		OwnerID:          ownerID,
		PreviousQuantity: previous,
		NewQuantity:      next,
		Delta:            delta,
		Reason:           reason,
		Timestamp:        now.UTC(),
	}, nil
}
