package timer

import (
	"encoding/json"
	"time"

	"github.com/homeflowhq/homeflow/internal/store"
)

// Command is the deferred operation a durable timer carries. The timer
// references only the prospect key, never in-memory state, so a fire after
// a process restart resumes purely from persisted state.
type Command struct {
	Type     string `json:"type"`
	Prospect string `json:"prospect"`
}

// CommandFollowUp re-enters the workflow when no reply arrived in time.
const CommandFollowUp = "follow_up"

// FollowUpID is the timer name for a prospect's follow-up reminder. One
// name per prospect: creating it again overwrites the pending timer.
func FollowUpID(prospectKey string) string {
	return "follow-up-" + prospectKey
}

// NewFollowUp builds the durable follow-up timer row for a prospect.
func NewFollowUp(prospectKey string, fireAt time.Time) (*store.Timer, error) {
	cmd, err := json.Marshal(Command{Type: CommandFollowUp, Prospect: prospectKey})
	if err != nil {
		return nil, err
	}
	return &store.Timer{
		ID:       FollowUpID(prospectKey),
		Prospect: prospectKey,
		Command:  cmd,
		FireAt:   fireAt.UTC(),
	}, nil
}
