package timer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeflowhq/homeflow/internal/store"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// timerStore is an in-memory store.Store exercising only the timer and
// maintenance surface the scheduler touches.
type timerStore struct {
	mu     sync.Mutex
	timers map[string]*store.Timer
	purged int
}

func newTimerStore() *timerStore {
	return &timerStore{timers: make(map[string]*store.Timer)}
}

func (s *timerStore) UpsertTimer(_ context.Context, t *store.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.timers[t.ID] = &cp
	return nil
}

func (s *timerStore) GetTimer(_ context.Context, id string) (*store.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "timer %q not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *timerStore) CancelTimer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, id)
	return nil
}

func (s *timerStore) ClaimTimer(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; !ok {
		return false, nil
	}
	delete(s.timers, id)
	return true, nil
}

func (s *timerStore) DueTimers(_ context.Context, now time.Time, _ int) ([]*store.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Timer
	for _, t := range s.timers {
		if !t.FireAt.After(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *timerStore) PurgeTerminalProspects(context.Context, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged++
	return 1, nil
}

func (s *timerStore) SaveProspect(context.Context, *store.Prospect) error { return nil }
func (s *timerStore) GetProspect(_ context.Context, email string) (*store.Prospect, error) {
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "prospect %q not found", email)
}
func (s *timerStore) ListProspects(context.Context, store.ProspectFilter) ([]*store.Prospect, error) {
	return nil, nil
}
func (s *timerStore) DeleteProspect(context.Context, string) error { return nil }
func (s *timerStore) AppendProspectEvent(context.Context, *store.ProspectEvent) error {
	return nil
}
func (s *timerStore) GetProspectEvents(context.Context, string, int64) ([]*store.ProspectEvent, error) {
	return nil, nil
}
func (s *timerStore) AppendClientEvent(context.Context, *store.ClientEvent) error { return nil }
func (s *timerStore) GetClientEvents(context.Context, string, int64) ([]*store.ClientEvent, error) {
	return nil, nil
}
func (s *timerStore) Migrate(context.Context) error { return nil }
func (s *timerStore) Close() error                  { return nil }

// recordingDispatcher collects fired prospect keys.
type recordingDispatcher struct {
	mu    sync.Mutex
	fired []string
}

func (d *recordingDispatcher) FollowUpFired(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, key)
	return nil
}

func (d *recordingDispatcher) firedKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.fired...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerDispatchesDueTimers(t *testing.T) {
	ts := newTimerStore()
	d := &recordingDispatcher{}

	tm, err := NewFollowUp("alice@example.com", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, ts.UpsertTimer(context.Background(), tm))

	sched, err := NewScheduler(ts, d, testLogger(), Config{Tick: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer func() { require.NoError(t, sched.Stop()) }()

	require.Eventually(t, func() bool {
		return len(d.firedKeys()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice@example.com"}, d.firedKeys())

	// The claim removed the timer; it does not fire again.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, d.firedKeys(), 1)
}

func TestSchedulerIgnoresFutureTimers(t *testing.T) {
	ts := newTimerStore()
	d := &recordingDispatcher{}

	tm, err := NewFollowUp("alice@example.com", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, ts.UpsertTimer(context.Background(), tm))

	sched, err := NewScheduler(ts, d, testLogger(), Config{Tick: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer func() { require.NoError(t, sched.Stop()) }()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.firedKeys())
}

func TestSchedulerCancelledTimerNeverFires(t *testing.T) {
	ts := newTimerStore()
	d := &recordingDispatcher{}

	tm, err := NewFollowUp("alice@example.com", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, ts.UpsertTimer(context.Background(), tm))
	require.NoError(t, ts.CancelTimer(context.Background(), tm.ID))

	sched, err := NewScheduler(ts, d, testLogger(), Config{Tick: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer func() { require.NoError(t, sched.Stop()) }()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.firedKeys())
}

func TestSchedulerSkipsUndecodableCommands(t *testing.T) {
	ts := newTimerStore()
	d := &recordingDispatcher{}

	require.NoError(t, ts.UpsertTimer(context.Background(), &store.Timer{
		ID:       "broken",
		Prospect: "alice@example.com",
		Command:  json.RawMessage(`not json`),
		FireAt:   time.Now().UTC().Add(-time.Second),
	}))

	sched, err := NewScheduler(ts, d, testLogger(), Config{Tick: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer func() { require.NoError(t, sched.Stop()) }()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.firedKeys())
}

func TestSchedulerOverdueTimerFiresOnStartup(t *testing.T) {
	ts := newTimerStore()
	d := &recordingDispatcher{}

	// A timer left over from before a restart, long past due.
	tm, err := NewFollowUp("alice@example.com", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, ts.UpsertTimer(context.Background(), tm))

	sched, err := NewScheduler(ts, d, testLogger(), Config{Tick: time.Hour})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer func() { require.NoError(t, sched.Stop()) }()

	// The initial tick runs before the first long tick interval elapses.
	require.Eventually(t, func() bool {
		return len(d.firedKeys()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerRejectsBadRetentionCron(t *testing.T) {
	_, err := NewScheduler(newTimerStore(), &recordingDispatcher{}, testLogger(), Config{
		RetentionCron: "not a cron",
	})
	assert.Error(t, err)
}

func TestSchedulerDoubleStart(t *testing.T) {
	sched, err := NewScheduler(newTimerStore(), &recordingDispatcher{}, testLogger(), Config{
		Tick: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop())

	// Stop is idempotent.
	require.NoError(t, sched.Stop())
}
