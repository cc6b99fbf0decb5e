package token

import "time"

// Outcome is the result class of one enrichment attempt against one source.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoData  Outcome = "no_data"
	OutcomeError   Outcome = "error"
)

// Policy holds the status thresholds. The defaults were picked empirically
// and are configuration, not invariants.
type Policy struct {
	// InactiveAfter is the number of consecutive no-data results, the
	// current one included, at which a token becomes inactive.
	InactiveAfter int `yaml:"inactive_after"`

	// ArchiveAfterAge is the discovery age past which a single prior
	// no-data result archives the token.
	ArchiveAfterAge time.Duration `yaml:"archive_after_age"`

	// FailureWindow bounds how far back prior no-data results are counted.
	FailureWindow time.Duration `yaml:"failure_window"`

	// MinStaleness is the default staleness for non-force selection.
	MinStaleness time.Duration `yaml:"min_staleness"`
}

// DefaultPolicy returns 3 failures / 7 days / 7 days / 1 hour.
func DefaultPolicy() Policy {
	return Policy{
		InactiveAfter:   3,
		ArchiveAfterAge: 7 * 24 * time.Hour,
		FailureWindow:   7 * 24 * time.Hour,
		MinStaleness:    time.Hour,
	}
}

// NextStatus evaluates the state machine after one attempt. prior is the
// number of no-data results already recorded for this source inside the
// policy window, not counting the current attempt. age is the time since
// first discovery. ok is false when the status must not change.
//
//	success                   -> active (from any state)
//	no data, prior+1>=N       -> inactive
//	no data, age>A, prior>=1  -> archived
//	no data, otherwise        -> no_dex_data
//	error                     -> unchanged
func NextStatus(outcome Outcome, p Policy, prior int, age time.Duration) (next Status, ok bool) {
	switch outcome {
	case OutcomeSuccess:
		return StatusActive, true
	case OutcomeNoData:
		switch {
		case prior+1 >= p.InactiveAfter:
			return StatusInactive, true
		case age > p.ArchiveAfterAge && prior >= 1:
			return StatusArchived, true
		default:
			return StatusNoDexData, true
		}
	}
	return "", false
}
