package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeflowhq/homeflow/internal/store"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

type recordingAppender struct {
	events []*store.ProspectEvent
	err    error
}

func (r *recordingAppender) AppendProspectEvent(_ context.Context, e *store.ProspectEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func TestValidTransitionsEmitEvents(t *testing.T) {
	cases := []struct {
		from, to schema.ProspectStatus
	}{
		{schema.StatusCollecting, schema.StatusWaitingReply},
		{schema.StatusCollecting, schema.StatusClosed},
		{schema.StatusCollecting, schema.StatusError},
		{schema.StatusWaitingReply, schema.StatusWaitingReply},
		{schema.StatusWaitingReply, schema.StatusFollowUp},
		{schema.StatusWaitingReply, schema.StatusClosed},
		{schema.StatusFollowUp, schema.StatusWaitingReply},
		{schema.StatusFollowUp, schema.StatusError},
	}
	for _, tc := range cases {
		appender := &recordingAppender{}
		fsm := NewProspectFSM(appender)

		err := fsm.Transition(context.Background(), "alice@example.com", tc.from, tc.to)
		require.NoError(t, err, "%s -> %s", tc.from, tc.to)
		require.Len(t, appender.events, 1)
		assert.Equal(t, schema.EventStatusChanged, appender.events[0].Type)
		assert.JSONEq(t,
			`{"from":"`+string(tc.from)+`","to":"`+string(tc.to)+`"}`,
			string(appender.events[0].Payload))
	}
}

func TestTerminalStatusesAcceptNoTransitions(t *testing.T) {
	targets := []schema.ProspectStatus{
		schema.StatusCollecting, schema.StatusWaitingReply,
		schema.StatusFollowUp, schema.StatusClosed, schema.StatusError,
	}
	for _, from := range []schema.ProspectStatus{schema.StatusClosed, schema.StatusError} {
		for _, to := range targets {
			appender := &recordingAppender{}
			fsm := NewProspectFSM(appender)

			err := fsm.Transition(context.Background(), "alice@example.com", from, to)
			require.Error(t, err, "%s -> %s", from, to)

			var pipeErr *schema.PipeError
			require.True(t, errors.As(err, &pipeErr))
			assert.Equal(t, schema.ErrCodeInvalidTransition, pipeErr.Code)
			assert.Empty(t, appender.events)
		}
	}
}

func TestInvalidForwardTransitions(t *testing.T) {
	cases := []struct {
		from, to schema.ProspectStatus
	}{
		{schema.StatusCollecting, schema.StatusCollecting},
		{schema.StatusCollecting, schema.StatusFollowUp},
		{schema.StatusWaitingReply, schema.StatusCollecting},
		{schema.StatusFollowUp, schema.StatusCollecting},
		{schema.StatusFollowUp, schema.StatusFollowUp},
	}
	for _, tc := range cases {
		fsm := NewProspectFSM(&recordingAppender{})
		err := fsm.Transition(context.Background(), "k", tc.from, tc.to)
		assert.Error(t, err, "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionAppendFailure(t *testing.T) {
	appender := &recordingAppender{err: errors.New("disk full")}
	fsm := NewProspectFSM(appender)

	err := fsm.Transition(context.Background(), "k", schema.StatusCollecting, schema.StatusWaitingReply)
	require.Error(t, err)

	var pipeErr *schema.PipeError
	require.True(t, errors.As(err, &pipeErr))
	assert.Equal(t, schema.ErrCodeStore, pipeErr.Code)
}
