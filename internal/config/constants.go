package config

type JobState string

// Pipeline states. HOLD and FAILED are reachable from every step; the only
// ways back to NEW are an operator approval and a scheduled retry.
const (
	StateNew          JobState = "NEW"
	StatePrepared     JobState = "PREPARED"
	StateOptiImported JobState = "OPTI_IMPORTED"
	StateOptiRunning  JobState = "OPTI_RUNNING"
	StateOptiDone     JobState = "OPTI_DONE"
	StateXMLReady     JobState = "XML_READY"
	StateDelivered    JobState = "DELIVERED"
	StateDone         JobState = "DONE"
	StateHold         JobState = "HOLD"
	StateFailed       JobState = "FAILED"
)

type OptiMode string

const (
	// ModeAuto launches the optimizer binary with the generated files.
	ModeAuto OptiMode = "A"
	// ModeMacro expects a companion macro next to the binary; the trigger
	// only verifies the macro exists.
	ModeMacro OptiMode = "B"
	// ModeManual never auto-triggers; an operator must approve first.
	ModeManual OptiMode = "C"
)

var AllowedModes = []OptiMode{ModeAuto, ModeMacro, ModeManual}

// Audit event types written by the store.
const (
	EventCreated        = "created"
	EventDedupHit       = "dedup_hit"
	EventStateChanged   = "state_changed"
	EventHold           = "hold"
	EventFailed         = "failed"
	EventRetryScheduled = "retry_scheduled"
	EventHoldApproved   = "hold_approved"
)
