package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homeflowhq/homeflow/internal/agent"
	"github.com/homeflowhq/homeflow/internal/expressions"
	"github.com/homeflowhq/homeflow/internal/logging"
	"github.com/homeflowhq/homeflow/internal/prospect"
	"github.com/homeflowhq/homeflow/internal/store"
	"github.com/homeflowhq/homeflow/internal/timer"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// stepGuard gates agent invocation: terminal workflows never reach the
// reasoning step, whatever else changed on disk between submit and drain.
const stepGuard = `status not in ["CLOSED", "ERROR"]`

// Decider produces a workflow decision for one prospect conversation.
// Satisfied by *agent.Agent.
type Decider interface {
	Decide(ctx context.Context, sessionKey string, past, unread []prospect.Message) (agent.Outcome, error)
}

// Config holds engine tuning knobs.
type Config struct {
	// FollowUpDelay is how long to wait for a reply before the follow-up
	// timer fires.
	FollowUpDelay time.Duration
	// StepTimeout bounds a single agent invocation attempt.
	StepTimeout time.Duration
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	// RetryDelay is the backoff between attempts.
	RetryDelay time.Duration
	// PoolSize bounds how many prospects are processed concurrently.
	PoolSize int
}

// DefaultConfig mirrors the production workflow settings: a one-minute step
// budget, two retries, and an hour before a silent prospect is nudged.
func DefaultConfig() Config {
	return Config{
		FollowUpDelay: time.Hour,
		StepTimeout:   time.Minute,
		MaxRetries:    2,
		RetryDelay:    2 * time.Second,
		PoolSize:      8,
	}
}

type jobKind int

const (
	jobRun jobKind = iota
	jobFollowUp
)

// mailbox serializes processing for one prospect key. Jobs for distinct
// keys run in parallel on the worker pool; jobs for the same key drain in
// arrival order on a single goroutine.
type mailbox struct {
	queue    []jobKind
	draining bool
}

// Engine drives prospect intake workflows: it accepts messages, invokes the
// reasoning agent with retry and timeout, persists every state change, and
// arms durable follow-up timers.
type Engine struct {
	store   store.Store
	decider Decider
	fsm     *ProspectFSM
	exprs   *expressions.ExprEngine
	pool    *WorkerPool
	logger  *slog.Logger
	cfg     Config

	// baseCtx outlives individual request contexts so accepted work is not
	// cancelled when the submitting HTTP request completes.
	baseCtx context.Context

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	locks     map[string]*sync.Mutex
}

// New creates a workflow engine. ctx bounds all background processing;
// cancel it and call Shutdown to stop the engine.
func New(ctx context.Context, st store.Store, decider Decider, logger *slog.Logger, cfg Config) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = time.Minute
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	return &Engine{
		store:     st,
		decider:   decider,
		fsm:       NewProspectFSM(st),
		exprs:     expressions.NewExprEngine(),
		pool:      NewWorkerPool(cfg.PoolSize),
		logger:    logger,
		cfg:       cfg,
		baseCtx:   ctx,
		mailboxes: make(map[string]*mailbox),
		locks:     make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing read-modify-write cycles for one
// prospect key. Mailbox jobs are already ordered per key; the lock extends
// that discipline to SubmitMessage, which runs on the caller's goroutine
// and would otherwise race a drain that loaded the snapshot earlier.
func (e *Engine) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// SubmitMessage records an inbound email for the prospect identified by its
// sender address and schedules asynchronous processing. The message is
// durable once this returns nil. A message for a CLOSED or ERROR prospect
// is rejected with a CONFLICT error.
func (e *Engine) SubmitMessage(ctx context.Context, msg prospect.Message) error {
	key := msg.Sender
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "message sender must not be blank")
	}
	if msg.SenderType != schema.SenderUser {
		return schema.NewErrorf(schema.ErrCodeValidation, "inbound messages must come from a user, got %q", msg.SenderType)
	}

	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadState(ctx, key)
	if err != nil {
		return err
	}
	if st == nil {
		fresh := prospect.New(key)
		st = &fresh
	}
	if st.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"prospect %s is %s and accepts no further messages", key, st.Status)
	}

	// A reply supersedes any pending follow-up reminder.
	wasWaiting := st.Status == schema.StatusWaitingReply || st.Status == schema.StatusFollowUp
	if wasWaiting {
		if err := e.store.CancelTimer(ctx, timer.FollowUpID(key)); err != nil {
			return err
		}
		e.appendEvent(ctx, key, "", schema.EventFollowUpCancelled, map[string]any{
			"timer_id": timer.FollowUpID(key),
		})
	}

	next := st.WithNewMessage(msg)
	if err := e.saveState(ctx, next); err != nil {
		return err
	}
	e.appendEvent(ctx, key, "", schema.EventMessageReceived, map[string]any{
		"subject": msg.Subject,
	})

	e.logger.Info("message accepted",
		slog.String("prospect", key),
		slog.String("status", string(next.Status)))

	e.enqueue(key, jobRun)
	return nil
}

// FollowUpFired handles a durable follow-up timer firing for a prospect.
// The fire is a no-op unless the prospect is still waiting for a reply;
// stale fires against replied-to or terminal prospects are dropped.
func (e *Engine) FollowUpFired(ctx context.Context, key string) error {
	e.enqueue(key, jobFollowUp)
	return nil
}

// Status returns the current conversation state for a prospect.
func (e *Engine) Status(ctx context.Context, key string) (*prospect.State, error) {
	st, err := e.loadState(ctx, key)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "prospect %s not found", key)
	}
	return st, nil
}

// Recover resumes durable state after a restart. Prospects with unread
// messages lost their in-memory mailbox with the process, so they are
// re-enqueued; a waiting prospect whose snapshot landed before the timer
// write did gets its follow-up reminder re-armed.
func (e *Engine) Recover(ctx context.Context) error {
	prospects, err := e.store.ListProspects(ctx, store.ProspectFilter{})
	if err != nil {
		return fmt.Errorf("list prospects for recovery: %w", err)
	}
	for _, p := range prospects {
		if p.Status.Terminal() {
			continue
		}
		var st prospect.State
		if err := json.Unmarshal(p.State, &st); err != nil {
			e.logger.ErrorContext(ctx, "skipping undecodable prospect during recovery",
				slog.String("prospect", p.Email),
				slog.String("error", err.Error()))
			continue
		}
		switch {
		case len(st.UnreadMessages) > 0:
			e.logger.InfoContext(ctx, "resuming prospect with pending messages",
				slog.String("prospect", p.Email),
				slog.Int("unread", len(st.UnreadMessages)))
			e.enqueue(p.Email, jobRun)
		case st.Status == schema.StatusWaitingReply:
			if _, err := e.store.GetTimer(ctx, timer.FollowUpID(p.Email)); err == nil {
				continue
			}
			if err := e.scheduleFollowUp(ctx, p.Email); err != nil {
				e.logger.ErrorContext(ctx, "failed to re-arm follow-up during recovery",
					slog.String("prospect", p.Email),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// DeleteProspect removes a prospect's snapshot and cancels any pending
// follow-up. The audit log and extracted client record are kept.
func (e *Engine) DeleteProspect(ctx context.Context, key string) error {
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.CancelTimer(ctx, timer.FollowUpID(key)); err != nil {
		return err
	}
	return e.store.DeleteProspect(ctx, key)
}

// Shutdown drains in-flight work and stops the worker pool.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// enqueue adds a job to the prospect's mailbox and starts a drain if one
// is not already running. Per-key ordering is preserved; distinct keys
// drain concurrently.
func (e *Engine) enqueue(key string, kind jobKind) {
	e.mu.Lock()
	mb, ok := e.mailboxes[key]
	if !ok {
		mb = &mailbox{}
		e.mailboxes[key] = mb
	}
	mb.queue = append(mb.queue, kind)
	start := !mb.draining
	if start {
		mb.draining = true
	}
	e.mu.Unlock()

	if !start {
		return
	}
	if err := e.pool.Submit(e.baseCtx, func(ctx context.Context) {
		e.drain(ctx, key)
	}); err != nil {
		e.mu.Lock()
		mb.draining = false
		e.mu.Unlock()
		e.logger.Error("failed to schedule prospect processing",
			slog.String("prospect", key),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) drain(ctx context.Context, key string) {
	for {
		e.mu.Lock()
		mb := e.mailboxes[key]
		if mb == nil || len(mb.queue) == 0 {
			if mb != nil {
				mb.draining = false
				delete(e.mailboxes, key)
			}
			e.mu.Unlock()
			return
		}
		kind := mb.queue[0]
		mb.queue = mb.queue[1:]
		e.mu.Unlock()

		jobCtx := logging.WithProspect(ctx, key)
		if err := e.process(jobCtx, key, kind); err != nil {
			e.logger.ErrorContext(jobCtx, "prospect processing failed",
				slog.String("prospect", key),
				slog.String("error", err.Error()))
		}
	}
}

// process dispatches one mailbox job. A panic is converted to an error so
// the drain loop survives and later jobs for the key still run.
func (e *Engine) process(ctx context.Context, key string, kind jobKind) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prospect processing panicked: %v", r)
		}
	}()
	switch kind {
	case jobRun:
		return e.runCollecting(ctx, key)
	case jobFollowUp:
		return e.handleFollowUp(ctx, key)
	}
	return nil
}

// runCollecting executes one reasoning step for a prospect: snapshot the
// conversation, invoke the agent over it, apply its side effects, and
// transition per its decision. Failures retry up to the policy, then fail
// over to ERROR.
//
// The agent runs outside the key lock, so a message can land while it
// reasons. The commit re-loads the state and acknowledges only the batch
// the agent actually saw; later arrivals stay unread and get their own
// step.
func (e *Engine) runCollecting(ctx context.Context, key string) error {
	ctx = logging.WithStep(ctx, schema.StepCollecting)
	lock := e.keyLock(key)

	lock.Lock()
	st, err := e.loadState(ctx, key)
	if err != nil {
		lock.Unlock()
		return err
	}
	if st == nil {
		lock.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "prospect %s not found", key)
	}
	ok, err := e.exprs.EvaluateBool(stepGuard, map[string]any{"status": string(st.Status)})
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("evaluate step guard: %w", err)
	}
	if !ok {
		lock.Unlock()
		e.logger.InfoContext(ctx, "step guard rejected processing",
			slog.String("prospect", key),
			slog.String("status", string(st.Status)))
		return nil
	}
	if len(st.UnreadMessages) == 0 {
		// Nothing new since the last step ran; a later job already consumed
		// the batch this one was queued for.
		lock.Unlock()
		return nil
	}
	past := append([]prospect.Message(nil), st.PastMessages...)
	unread := append([]prospect.Message(nil), st.UnreadMessages...)
	lock.Unlock()

	e.appendEvent(ctx, key, schema.StepCollecting, schema.EventStepStarted, map[string]any{
		"unread": len(unread),
	})

	outcome, err := e.decideWithRetry(ctx, key, past, unread)
	if err != nil {
		return e.failWorkflow(ctx, key, err)
	}

	// Tool side effects land in history after the acknowledged batch,
	// keeping the conversation chronological: the agent replied to those
	// messages, so its reply follows them.
	applyOutcome := func(s prospect.State) prospect.State {
		for _, sent := range outcome.Sent {
			s = s.WithAssistantMessage(sent)
		}
		if outcome.Details != nil {
			s = s.WithExtractedDetails(*outcome.Details)
		}
		return s
	}

	lock.Lock()
	defer lock.Unlock()
	fresh, err := e.loadState(ctx, key)
	if err != nil {
		return err
	}
	if fresh == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "prospect %s vanished mid-step", key)
	}

	switch outcome.Decision {
	case schema.DecisionWaitReply:
		if err := e.fsm.Transition(ctx, key, fresh.Status, schema.StatusWaitingReply); err != nil {
			return err
		}
		next := applyOutcome(fresh.AckRead(len(unread)).MarkWaitingReply())
		if err := e.saveState(ctx, next); err != nil {
			return err
		}
		e.appendEvent(ctx, key, schema.StepCollecting, schema.EventStepCompleted, map[string]any{
			"decision": string(outcome.Decision),
		})
		if len(next.UnreadMessages) > 0 {
			// A message arrived during the step; run again instead of
			// arming a reminder for a conversation that is not idle.
			e.enqueue(key, jobRun)
			return nil
		}
		return e.scheduleFollowUp(ctx, key)

	case schema.DecisionAllInfoCollected:
		if err := e.fsm.Transition(ctx, key, fresh.Status, schema.StatusClosed); err != nil {
			return err
		}
		next := applyOutcome(fresh.MarkClosed())
		if err := e.saveState(ctx, next); err != nil {
			return err
		}
		e.appendEvent(ctx, key, schema.StepCollecting, schema.EventStepCompleted, map[string]any{
			"decision": string(outcome.Decision),
		})
		e.appendEvent(ctx, key, "", schema.EventWorkflowClosed, nil)
		e.logger.InfoContext(ctx, "workflow closed", slog.String("prospect", key))
		return nil

	default:
		// Unrecognized decision: keep whatever side effects the agent
		// produced and pause until the next inbound message.
		next := applyOutcome(*fresh)
		if err := e.saveState(ctx, next); err != nil {
			return err
		}
		e.appendEvent(ctx, key, schema.StepCollecting, schema.EventStepPaused, map[string]any{
			"response": outcome.Raw,
		})
		e.logger.WarnContext(ctx, "agent decision unrecognized, pausing",
			slog.String("prospect", key),
			slog.String("response", outcome.Raw))
		return nil
	}
}

// decideWithRetry runs the agent under the step timeout, retrying transient
// failures up to the policy.
func (e *Engine) decideWithRetry(ctx context.Context, key string, past, unread []prospect.Message) (agent.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			e.appendEvent(ctx, key, schema.StepCollecting, schema.EventStepRetrying, map[string]any{
				"attempt": attempt,
			})
			if err := WaitForBackoff(ctx, e.cfg.RetryDelay); err != nil {
				return agent.Outcome{}, err
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		outcome, err := e.decider.Decide(stepCtx, key, past, unread)
		cancel()
		if err == nil {
			return outcome, nil
		}

		lastErr = err
		e.appendEvent(ctx, key, schema.StepCollecting, schema.EventStepFailed, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		e.logger.WarnContext(ctx, "reasoning step failed",
			slog.String("prospect", key),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if !IsRetryableError(err) {
			break
		}
	}
	return agent.Outcome{}, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"reasoning step failed after %d attempts", e.cfg.MaxRetries+1).WithCause(lastErr)
}

// failWorkflow is the failover step: the workflow lands in terminal ERROR
// and records why. Unread messages survive for operator inspection.
func (e *Engine) failWorkflow(ctx context.Context, key string, cause error) error {
	ctx = logging.WithStep(ctx, schema.StepError)
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadState(ctx, key)
	if err != nil {
		return err
	}
	if st == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "prospect %s not found", key)
	}
	if err := e.fsm.Transition(ctx, key, st.Status, schema.StatusError); err != nil {
		return err
	}
	next := st.MarkError()
	if err := e.saveState(ctx, next); err != nil {
		return err
	}
	e.appendEvent(ctx, key, schema.StepError, schema.EventWorkflowFailed, map[string]any{
		"error": cause.Error(),
	})
	e.logger.ErrorContext(ctx, "workflow failed",
		slog.String("prospect", key),
		slog.String("error", cause.Error()))
	return nil
}

// scheduleFollowUp arms the durable reminder for a prospect now waiting on
// a reply. One timer per prospect: re-arming overwrites the previous one.
func (e *Engine) scheduleFollowUp(ctx context.Context, key string) error {
	fireAt := time.Now().UTC().Add(e.cfg.FollowUpDelay)
	t, err := timer.NewFollowUp(key, fireAt)
	if err != nil {
		return fmt.Errorf("build follow-up timer: %w", err)
	}
	if err := e.store.UpsertTimer(ctx, t); err != nil {
		return err
	}
	e.appendEvent(ctx, key, schema.StepWaitingReply, schema.EventFollowUpScheduled, map[string]any{
		"timer_id": t.ID,
		"fire_at":  fireAt.Format(time.RFC3339),
	})
	e.logger.InfoContext(ctx, "follow-up scheduled",
		slog.String("prospect", key),
		slog.Time("fire_at", fireAt))
	return nil
}

// handleFollowUp processes a fired follow-up timer. Only a prospect still
// in WAITING_REPLY with nothing pending moves to FOLLOW_UP; anything else
// means a reply or a terminal transition raced the fire, and the fire is
// dropped.
func (e *Engine) handleFollowUp(ctx context.Context, key string) error {
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadState(ctx, key)
	if err != nil {
		return err
	}
	if st == nil || st.Status != schema.StatusWaitingReply || len(st.UnreadMessages) > 0 {
		e.logger.DebugContext(ctx, "stale follow-up fire dropped",
			slog.String("prospect", key))
		return nil
	}

	if err := e.fsm.Transition(ctx, key, st.Status, schema.StatusFollowUp); err != nil {
		return err
	}
	next := st.MarkFollowUp()
	if err := e.saveState(ctx, next); err != nil {
		return err
	}
	e.appendEvent(ctx, key, schema.StepWaitingReply, schema.EventFollowUpFired, nil)
	e.logger.InfoContext(ctx, "prospect flagged for follow-up",
		slog.String("prospect", key))
	return nil
}

// loadState fetches and decodes a prospect snapshot. Returns (nil, nil)
// when the prospect does not exist.
func (e *Engine) loadState(ctx context.Context, key string) (*prospect.State, error) {
	p, err := e.store.GetProspect(ctx, key)
	if err != nil {
		var pipeErr *schema.PipeError
		if errors.As(err, &pipeErr) && pipeErr.Code == schema.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	var st prospect.State
	if err := json.Unmarshal(p.State, &st); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode prospect state for %s", key).WithCause(err)
	}
	return &st, nil
}

func (e *Engine) saveState(ctx context.Context, st prospect.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode prospect state for %s", st.Email).WithCause(err)
	}
	return e.store.SaveProspect(ctx, &store.Prospect{
		Email:  st.Email,
		Status: st.Status,
		State:  raw,
	})
}

// appendEvent writes to the audit log, logging rather than failing the
// workflow when the append itself errors.
func (e *Engine) appendEvent(ctx context.Context, key, step, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to encode audit payload",
				slog.String("event_type", eventType),
				slog.String("error", err.Error()))
			return
		}
		raw = b
	}
	if err := e.store.AppendProspectEvent(ctx, &store.ProspectEvent{
		Prospect: key,
		Step:     step,
		Type:     eventType,
		Payload:  raw,
	}); err != nil {
		e.logger.ErrorContext(ctx, "failed to append audit event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}
