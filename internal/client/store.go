package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/homeflowhq/homeflow/internal/store"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// EventLog is the slice of the persistence layer the client entity needs.
// Satisfied by store.Store.
type EventLog interface {
	AppendClientEvent(ctx context.Context, e *store.ClientEvent) error
	GetClientEvents(ctx context.Context, clientID string, since int64) ([]*store.ClientEvent, error)
}

// Store is the event-sourced client record entity, keyed by email.
// State is never written directly: Save appends an event, Get folds the log.
type Store struct {
	log    EventLog
	logger *slog.Logger
}

// NewStore creates a client record store over the given event log.
func NewStore(log EventLog, logger *slog.Logger) *Store {
	return &Store{log: log, logger: logger}
}

// Save validates the command and appends a SaveClientInfo event.
// Blank name or email fail validation and persist nothing.
func (s *Store) Save(ctx context.Context, cmd SaveClientInfo) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "client name is blank")
	}
	if strings.TrimSpace(cmd.Email) == "" {
		return schema.NewError(schema.ErrCodeValidation, "client email is blank")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal client event: %s", err.Error()).WithCause(err)
	}

	s.logger.InfoContext(ctx, "saving client info",
		slog.String("client", cmd.Email),
		slog.String("name", cmd.Name),
	)

	if err := s.log.AppendClientEvent(ctx, &store.ClientEvent{
		ClientID: cmd.Email,
		Type:     schema.EventSaveClientInfo,
		Payload:  payload,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append client event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// Get folds the full event log for the client into its current record.
func (s *Store) Get(ctx context.Context, email string) (*Record, error) {
	rows, err := s.log.GetClientEvents(ctx, email, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read client events: %s", err.Error()).WithCause(err)
	}

	var events []SaveClientInfo
	for _, row := range rows {
		if row.Type != schema.EventSaveClientInfo {
			continue
		}
		var e SaveClientInfo
		if err := json.Unmarshal(row.Payload, &e); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"decode client event seq %d: %s", row.Sequence, err.Error()).WithCause(err)
		}
		events = append(events, e)
	}

	record := Fold(events)
	if record == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "client %q not found", email)
	}
	return record, nil
}
