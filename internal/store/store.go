package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/homeflowhq/homeflow/pkg/schema"
)

// Prospect is the persisted snapshot of a prospect workflow instance.
// State carries the full conversation state as JSON; Status is duplicated
// into its own column for filtering.
type Prospect struct {
	Email     string                `json:"email"`
	Status    schema.ProspectStatus `json:"status"`
	State     json.RawMessage       `json:"state"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// ProspectEvent is an immutable entry in the workflow audit log.
type ProspectEvent struct {
	ID        int64           `json:"id"`
	Prospect  string          `json:"prospect"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ClientEvent is an immutable entry in the event-sourced client record log,
// keyed by the client's email address.
type ClientEvent struct {
	ID        int64           `json:"id"`
	ClientID  string          `json:"client_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Timer is a durable single-shot named timer. Creating a timer with an
// existing ID overwrites it; cancelling a missing ID is a no-op.
type Timer struct {
	ID        string          `json:"id"`
	Prospect  string          `json:"prospect"`
	Command   json.RawMessage `json:"command"`
	FireAt    time.Time       `json:"fire_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProspectFilter narrows ListProspects results.
type ProspectFilter struct {
	Status *schema.ProspectStatus
	Limit  int
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Prospect snapshots
	SaveProspect(ctx context.Context, p *Prospect) error
	GetProspect(ctx context.Context, email string) (*Prospect, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]*Prospect, error)
	DeleteProspect(ctx context.Context, email string) error

	// Workflow audit log (append-only)
	AppendProspectEvent(ctx context.Context, e *ProspectEvent) error
	GetProspectEvents(ctx context.Context, prospect string, since int64) ([]*ProspectEvent, error)

	// Client record log (append-only, event-sourced)
	AppendClientEvent(ctx context.Context, e *ClientEvent) error
	GetClientEvents(ctx context.Context, clientID string, since int64) ([]*ClientEvent, error)

	// Timers
	UpsertTimer(ctx context.Context, t *Timer) error
	GetTimer(ctx context.Context, id string) (*Timer, error)
	CancelTimer(ctx context.Context, id string) error
	ClaimTimer(ctx context.Context, id string) (bool, error)
	DueTimers(ctx context.Context, now time.Time, limit int) ([]*Timer, error)

	// Maintenance
	PurgeTerminalProspects(ctx context.Context, olderThan time.Time) (int64, error)
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
