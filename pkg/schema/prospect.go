package schema

// ProspectStatus represents the lifecycle state of a prospect intake workflow.
type ProspectStatus string

const (
	StatusCollecting   ProspectStatus = "COLLECTING"
	StatusWaitingReply ProspectStatus = "WAITING_REPLY"
	StatusFollowUp     ProspectStatus = "FOLLOW_UP"
	StatusClosed       ProspectStatus = "CLOSED"
	StatusError        ProspectStatus = "ERROR"
)

// Terminal reports whether the workflow accepts no further processing.
func (s ProspectStatus) Terminal() bool {
	return s == StatusClosed || s == StatusError
}

// Decision is the terminal token the reasoning agent returns to signal the
// next workflow transition.
type Decision string

const (
	DecisionWaitReply        Decision = "WAIT_REPLY"
	DecisionAllInfoCollected Decision = "ALL_INFO_COLLECTED"
	// DecisionUnrecognized covers every other agent response, including
	// free-text errors. The engine pauses the step without escalating.
	DecisionUnrecognized Decision = ""
)

// SenderType distinguishes who authored a conversation message.
type SenderType string

const (
	SenderUser      SenderType = "USER"
	SenderAssistant SenderType = "ASSISTANT"
)

// Event type constants for the append-only logs.
const (
	// Prospect workflow audit events.
	EventMessageReceived   = "message_received"
	EventStepStarted       = "step_started"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventStepRetrying      = "step_retrying"
	EventStepPaused        = "step_paused"
	EventStatusChanged     = "status_changed"
	EventFollowUpScheduled = "follow_up_scheduled"
	EventFollowUpCancelled = "follow_up_cancelled"
	EventFollowUpFired     = "follow_up_fired"
	EventWorkflowClosed    = "workflow_closed"
	EventWorkflowFailed    = "workflow_failed"

	// Client record events. The save event name matches the persisted
	// type tag of the client entity log.
	EventSaveClientInfo = "save-client-info"
)

// Step name constants for the workflow step graph.
const (
	StepCollecting   = "COLLECTING"
	StepWaitingReply = "WAITING_REPLY"
	StepError        = "error"
)
