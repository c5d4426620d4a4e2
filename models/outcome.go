package models

// Outcome is the terminal state of one site run. Every driver invocation
// resolves to exactly one outcome, logged with the site name.
type Outcome int

const (
	// OutcomeSuccess means the driver completed and metrics were emitted.
	OutcomeSuccess Outcome = iota
	// OutcomeSkipped means the throttle gate (or the explicit site list)
	// excluded the site; no browser page was opened.
	OutcomeSkipped
	// OutcomeFailed covers load errors, mandatory-interaction errors and
	// extraction errors. No metrics are emitted.
	OutcomeFailed
	// OutcomeTimeout means the completion condition was not met within the
	// site's measurement budget. No metrics are emitted.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeFailed:
		return "FAILED"
	case OutcomeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}
