package engine

import (
	"context"
	"encoding/json"

	"github.com/homeflowhq/homeflow/internal/store"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// EventAppender is satisfied by the Store; used by the FSM to emit audit
// events on transitions.
type EventAppender interface {
	AppendProspectEvent(ctx context.Context, e *store.ProspectEvent) error
}

// ValidTransitions defines the allowed status transitions for a prospect
// workflow. WAITING_REPLY permits a self-transition: a reply can lead the
// agent straight back to waiting on the next missing field.
var ValidTransitions = map[schema.ProspectStatus][]schema.ProspectStatus{
	schema.StatusCollecting:   {schema.StatusWaitingReply, schema.StatusClosed, schema.StatusError},
	schema.StatusWaitingReply: {schema.StatusWaitingReply, schema.StatusFollowUp, schema.StatusClosed, schema.StatusError},
	schema.StatusFollowUp:     {schema.StatusWaitingReply, schema.StatusClosed, schema.StatusError},
	schema.StatusClosed:       {},
	schema.StatusError:        {},
}

// ProspectFSM validates prospect status transitions and records them in the
// audit log.
type ProspectFSM struct {
	appender EventAppender
}

// NewProspectFSM creates an FSM that emits events via the given appender.
func NewProspectFSM(appender EventAppender) *ProspectFSM {
	return &ProspectFSM{appender: appender}
}

// Transition validates and records a prospect status transition.
// The caller is responsible for persisting the new snapshot.
func (f *ProspectFSM) Transition(ctx context.Context, prospectKey string, from, to schema.ProspectStatus) error {
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid prospect transition: %s -> %s", from, to).
			WithDetails(map[string]any{"prospect": prospectKey, "from": string(from), "to": string(to)})
	}

	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	event := &store.ProspectEvent{
		Prospect: prospectKey,
		Type:     schema.EventStatusChanged,
		Payload:  payload,
	}
	if err := f.appender.AppendProspectEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit transition event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func isValidTransition(from, to schema.ProspectStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
