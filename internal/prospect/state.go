package prospect

import (
	"time"

	"github.com/homeflowhq/homeflow/internal/client"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// State holds the full conversation and workflow position for one prospect,
// keyed by their email address. It is an immutable value: every transition
// helper returns a fresh copy and never mutates in place, so a State held
// across a suspension point can be trusted not to change underneath.
//
// Invariant: UnreadMessages holds exactly the messages received since the
// last batch acknowledged via AckRead. A message that arrives while a batch
// is being reasoned over stays unread until its own batch is acknowledged.
type State struct {
	Status         schema.ProspectStatus   `json:"status"`
	Email          string                  `json:"email"`
	PastMessages   []Message               `json:"past_messages,omitempty"`
	UnreadMessages []Message               `json:"unread_messages,omitempty"`
	LastUpdated    time.Time               `json:"last_updated"`
	Details        *client.PropertyDetails `json:"details,omitempty"`
}

// New creates the initial state for a prospect. Status starts at COLLECTING
// and the email key is immutable from here on.
func New(email string) State {
	return State{
		Status:      schema.StatusCollecting,
		Email:       email,
		LastUpdated: time.Now().UTC(),
	}
}

// WithNewMessage appends an inbound message to the unread queue.
func (s State) WithNewMessage(m Message) State {
	n := s.clone()
	n.UnreadMessages = append(n.UnreadMessages, m)
	n.LastUpdated = time.Now().UTC()
	return n
}

// WithAssistantMessage records an agent-authored message directly into the
// conversation history. It does not touch the unread queue.
func (s State) WithAssistantMessage(m Message) State {
	n := s.clone()
	n.PastMessages = append(n.PastMessages, m)
	n.LastUpdated = time.Now().UTC()
	return n
}

// WithExtractedDetails attaches the property interest extracted by a
// successful save_client_info tool call.
func (s State) WithExtractedDetails(d client.PropertyDetails) State {
	n := s.clone()
	n.Details = &d
	n.LastUpdated = time.Now().UTC()
	return n
}

// AckRead moves the first n unread messages into the history, in order.
// Callers acknowledge exactly the batch they processed; anything that
// arrived after the batch was taken stays unread. n larger than the queue
// drains it entirely.
func (s State) AckRead(n int) State {
	if n > len(s.UnreadMessages) {
		n = len(s.UnreadMessages)
	}
	out := s.clone()
	if n <= 0 {
		return out
	}
	out.PastMessages = append(out.PastMessages, out.UnreadMessages[:n]...)
	out.UnreadMessages = out.UnreadMessages[n:]
	out.LastUpdated = time.Now().UTC()
	return out
}

// MarkWaitingReply transitions to WAITING_REPLY. Unread messages are left
// in place: the caller acknowledges the batch it actually processed via
// AckRead, so a message that arrived mid-step stays queued.
func (s State) MarkWaitingReply() State {
	n := s.clone()
	n.Status = schema.StatusWaitingReply
	n.LastUpdated = time.Now().UTC()
	return n
}

// MarkClosed transitions to the terminal CLOSED status, draining unread
// messages into the history.
func (s State) MarkClosed() State {
	n := s.drained()
	n.Status = schema.StatusClosed
	return n
}

// MarkFollowUp records that a follow-up is due for this prospect.
func (s State) MarkFollowUp() State {
	n := s.clone()
	n.Status = schema.StatusFollowUp
	n.LastUpdated = time.Now().UTC()
	return n
}

// MarkError transitions to the terminal ERROR status. Unread messages are
// kept as-is for operator inspection.
func (s State) MarkError() State {
	n := s.clone()
	n.Status = schema.StatusError
	n.LastUpdated = time.Now().UTC()
	return n
}

func (s State) clone() State {
	n := s
	n.PastMessages = append([]Message(nil), s.PastMessages...)
	n.UnreadMessages = append([]Message(nil), s.UnreadMessages...)
	if s.Details != nil {
		d := *s.Details
		n.Details = &d
	}
	return n
}

func (s State) drained() State {
	n := s.clone()
	n.PastMessages = append(n.PastMessages, n.UnreadMessages...)
	n.UnreadMessages = nil
	n.LastUpdated = time.Now().UTC()
	return n
}
