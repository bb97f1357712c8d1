package flow

// Outcome is the explicit result of an engine entry point. Silent-continue
// paths (a stale resume, a locked lead) are visible values here instead of
// swallowed errors, so callers and tests can assert on them.
type Outcome string

const (
	// OutcomeAdvanced means the lead moved and is still running (only seen
	// mid-loop; entry points always finish on one of the states below).
	OutcomeAdvanced Outcome = "advanced"

	// OutcomePaused means the lead is suspended on a timer, an event, or a
	// dispatch acknowledgement.
	OutcomePaused Outcome = "paused"

	// OutcomeCompleted means the lead reached an end node.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means the lead was marked terminal-failure.
	OutcomeFailed Outcome = "failed"

	// OutcomeStale means the resume found the lead in a state inconsistent
	// with what it expected; nothing was changed. The tie-break rule makes
	// the losing side of an event/timer race end up here.
	OutcomeStale Outcome = "stale"

	// OutcomeSkipped means another worker holds the lead's execution lock;
	// the caller should let the message redeliver.
	OutcomeSkipped Outcome = "skipped"
)
