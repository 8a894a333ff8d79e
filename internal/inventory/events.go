package inventory

// Adjustment outcomes reported to the Observer.
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// Observer receives ledger events, typically for metrics.
type Observer interface {
	AdjustmentApplied(outcome string)
	PartialFailure(operation string)
	CascadeRetry(outcome string)
	LedgerDrift(drift float64)
}

type nopObserver struct{}

func (nopObserver) AdjustmentApplied(string) {}
func (nopObserver) PartialFailure(string)    {}
func (nopObserver) CascadeRetry(string)      {}
func (nopObserver) LedgerDrift(float64)      {}
