package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/homeflowhq/homeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string, logger *slog.Logger) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, logger: logger}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// --- Prospect snapshots ---

func (s *LibSQLStore) SaveProspect(ctx context.Context, p *Prospect) error {
	if p.Email == "" {
		return schema.NewError(schema.ErrCodeValidation, "prospect email is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prospects (email, status, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(email) DO UPDATE SET
		   status=excluded.status, state=excluded.state, updated_at=CURRENT_TIMESTAMP`,
		p.Email, string(p.Status), string(p.State), timeOrNow(p.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetProspect(ctx context.Context, email string) (*Prospect, error) {
	p := &Prospect{}
	var status, state string
	err := s.db.QueryRowContext(ctx,
		`SELECT email, status, state, created_at, updated_at FROM prospects WHERE email = ?`, email,
	).Scan(&p.Email, &status, &state, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("prospect", email)
	}
	if err != nil {
		return nil, err
	}
	p.Status = schema.ProspectStatus(status)
	p.State = json.RawMessage(state)
	return p, nil
}

func (s *LibSQLStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]*Prospect, error) {
	query := `SELECT email, status, state, created_at, updated_at FROM prospects`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Prospect
	for rows.Next() {
		p := &Prospect{}
		var status, state string
		if err := rows.Scan(&p.Email, &status, &state, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = schema.ProspectStatus(status)
		p.State = json.RawMessage(state)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteProspect(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prospects WHERE email = ?`, email)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "prospect", email)
}

// --- Workflow audit log ---

func (s *LibSQLStore) AppendProspectEvent(ctx context.Context, e *ProspectEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Monotonically increasing per-prospect sequence.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM prospect_events WHERE prospect = ?`, e.Prospect,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	e.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO prospect_events (prospect, step, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Prospect, nullStr(e.Step), e.Type, nullRaw(e.Payload), timeOrNow(e.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert prospect event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetProspectEvents(ctx context.Context, prospect string, since int64) ([]*ProspectEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prospect, step, event_type, payload, timestamp, sequence
		 FROM prospect_events WHERE prospect = ? AND sequence > ? ORDER BY sequence ASC`,
		prospect, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ProspectEvent
	for rows.Next() {
		e := &ProspectEvent{}
		var step, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Prospect, &step, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Step = step.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Client record log ---

func (s *LibSQLStore) AppendClientEvent(ctx context.Context, e *ClientEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM client_events WHERE client_id = ?`, e.ClientID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	e.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO client_events (client_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ClientID, e.Type, string(e.Payload), timeOrNow(e.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert client event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetClientEvents(ctx context.Context, clientID string, since int64) ([]*ClientEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, event_type, payload, timestamp, sequence
		 FROM client_events WHERE client_id = ? AND sequence > ? ORDER BY sequence ASC`,
		clientID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ClientEvent
	for rows.Next() {
		e := &ClientEvent{}
		var payload string
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Timers ---

func (s *LibSQLStore) UpsertTimer(ctx context.Context, t *Timer) error {
	if t.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "timer id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timers (id, prospect, command, fire_at, created_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   prospect=excluded.prospect, command=excluded.command, fire_at=excluded.fire_at`,
		t.ID, t.Prospect, string(t.Command), t.FireAt.UTC(),
	)
	return err
}

func (s *LibSQLStore) GetTimer(ctx context.Context, id string) (*Timer, error) {
	t := &Timer{}
	var command string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, prospect, command, fire_at, created_at FROM timers WHERE id = ?`, id,
	).Scan(&t.ID, &t.Prospect, &command, &t.FireAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("timer", id)
	}
	if err != nil {
		return nil, err
	}
	t.Command = json.RawMessage(command)
	return t, nil
}

// CancelTimer deletes a timer. Safe to call on a non-existent id.
func (s *LibSQLStore) CancelTimer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id)
	return err
}

// ClaimTimer atomically removes a timer before dispatching it. Returns false
// when the timer no longer exists, i.e. it was cancelled or claimed by
// another tick.
func (s *LibSQLStore) ClaimTimer(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) DueTimers(ctx context.Context, now time.Time, limit int) ([]*Timer, error) {
	query := `SELECT id, prospect, command, fire_at, created_at FROM timers WHERE fire_at <= ? ORDER BY fire_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []*Timer
	for rows.Next() {
		t := &Timer{}
		var command string
		if err := rows.Scan(&t.ID, &t.Prospect, &command, &t.FireAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Command = json.RawMessage(command)
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// --- Maintenance ---

// PurgeTerminalProspects removes CLOSED and ERROR prospects last touched
// before the cutoff, together with their audit events. Client records are
// kept: they are the durable outcome of the intake.
func (s *LibSQLStore) PurgeTerminalProspects(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM prospect_events WHERE prospect IN (
		   SELECT email FROM prospects WHERE status IN (?, ?) AND updated_at < ?)`,
		string(schema.StatusClosed), string(schema.StatusError), olderThan.UTC(),
	); err != nil {
		return 0, fmt.Errorf("purge prospect events: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM prospects WHERE status IN (?, ?) AND updated_at < ?`,
		string(schema.StatusClosed), string(schema.StatusError), olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge prospects: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return n, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.PipeError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
