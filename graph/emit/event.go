package emit

// Event represents an observability event emitted during ActionGraph
// execution or compilation.
//
// Events provide detailed insight into orchestration behavior:
//   - Phase/step dispatch and completion
//   - Failure classification outcomes
//   - Repair and dispatch-path decisions
//   - Compilation rounds and token-budget accounting
//
// Adapted from the teacher project's generic workflow Event: the fields
// below name attack-graph-specific dimensions (Phase, Kind, StatusCode,
// Category) instead of a generic NodeID, since this engine's steps are not
// generic workflow nodes.
type Event struct {
	// RunID identifies the dispatcher run (or compilation round) that
	// emitted this event.
	RunID string `json:"runID"`

	// StepOrder is the Step.Order this event concerns. Zero (with an
	// empty Kind) for run-level events (dispatch path selection, repair
	// start, budget accounting).
	StepOrder int `json:"stepOrder"`

	// Phase is the CAMRO phase of the step this event concerns, if any.
	Phase string `json:"phase,omitempty"`

	// Kind is the StepKind of the step this event concerns, if any.
	Kind string `json:"kind,omitempty"`

	// Msg is a short machine-grep-able event name, e.g. "step_dispatched",
	// "step_failed", "repair_triggered", "dispatch_path_selected".
	Msg string `json:"msg"`

	// StatusCode mirrors step.Result.StatusCode when relevant (-1 if N/A).
	StatusCode int `json:"statusCode,omitempty"`

	// DurationMS mirrors step.Result.DurationMS when relevant.
	DurationMS int64 `json:"durationMS,omitempty"`

	// Category is the classify.Category string when this event concerns a
	// failure classification outcome. Empty otherwise.
	Category string `json:"category,omitempty"`

	// Meta contains additional structured data specific to this event,
	// e.g. {"tokens_spent": 1200} for compilation events.
	Meta map[string]interface{} `json:"meta,omitempty"`
}
