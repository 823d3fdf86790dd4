package trinity

import "errors"

// Fatal pipeline errors. The orchestrator maps these to a single response
// envelope; everything else in the pipeline is advisory and warn-logged.
var (
	// ErrBudgetExhausted means the request's invocation budget would be
	// exceeded by the next model call.
	ErrBudgetExhausted = errors.New("invocation budget exhausted")

	// ErrDeadlineExceeded means the watchdog deadline has passed.
	ErrDeadlineExceeded = errors.New("watchdog deadline exceeded")

	// ErrStructuredReasoningMissing means the reasoning stage produced a
	// null or schema-violating ledger. There is no retry loop: a request
	// without a ledger cannot be audited or escalated, so it aborts.
	ErrStructuredReasoningMissing = errors.New("structured reasoning missing")

	// ErrStrictExecutionDowngrade means the active reasoning model was
	// weaker than the requested model while running in
	// internal-architectural mode, where downgrades are fatal
	// (STRICT_EXECUTION_ERROR).
	ErrStrictExecutionDowngrade = errors.New("STRICT_EXECUTION_ERROR: model downgrade in internal-architectural mode")
)

// IsFatal reports whether err is one of the pipeline-fatal errors that must
// surface to the caller as a 500 with diagnostic fields.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, ErrDeadlineExceeded) ||
		errors.Is(err, ErrStructuredReasoningMissing) ||
		errors.Is(err, ErrStrictExecutionDowngrade)
}
