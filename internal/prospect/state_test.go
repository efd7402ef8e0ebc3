package prospect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeflowhq/homeflow/internal/client"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

func TestNewStartsCollecting(t *testing.T) {
	st := New("alice@example.com")

	assert.Equal(t, schema.StatusCollecting, st.Status)
	assert.Equal(t, "alice@example.com", st.Email)
	assert.Empty(t, st.PastMessages)
	assert.Empty(t, st.UnreadMessages)
	assert.False(t, st.LastUpdated.IsZero())
}

func TestWithNewMessageAppendsUnread(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "Looking for a flat"))
	st = st.WithNewMessage(UserMessage("alice@example.com", "Re: Hi", "In Lisbon"))

	require.Len(t, st.UnreadMessages, 2)
	assert.Empty(t, st.PastMessages)
	assert.Equal(t, "Looking for a flat", st.UnreadMessages[0].Content)
	assert.Equal(t, "In Lisbon", st.UnreadMessages[1].Content)
}

func TestWithAssistantMessageGoesStraightToHistory(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "hello"))
	st = st.WithAssistantMessage(AssistantMessage("Re: Hi", "What city?"))

	require.Len(t, st.PastMessages, 1)
	assert.Equal(t, schema.SenderAssistant, st.PastMessages[0].SenderType)
	// The unread queue is untouched.
	assert.Len(t, st.UnreadMessages, 1)
}

func TestAckReadMovesBatchToHistory(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "one"))
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "two"))
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "three"))

	st = st.AckRead(2)

	require.Len(t, st.PastMessages, 2)
	assert.Equal(t, "one", st.PastMessages[0].Content)
	assert.Equal(t, "two", st.PastMessages[1].Content)
	// The message that was not part of the acknowledged batch stays queued.
	require.Len(t, st.UnreadMessages, 1)
	assert.Equal(t, "three", st.UnreadMessages[0].Content)
}

func TestAckReadClampsToQueue(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "one"))

	st = st.AckRead(5)
	assert.Len(t, st.PastMessages, 1)
	assert.Empty(t, st.UnreadMessages)

	st = st.AckRead(1)
	assert.Len(t, st.PastMessages, 1)
}

func TestMarkWaitingReplyKeepsUnread(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "one"))

	st = st.MarkWaitingReply()

	assert.Equal(t, schema.StatusWaitingReply, st.Status)
	// Acknowledging the processed batch is a separate, explicit step.
	assert.Len(t, st.UnreadMessages, 1)
	assert.Empty(t, st.PastMessages)
}

func TestMarkClosedDrainsUnread(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "one"))

	st = st.MarkClosed()

	assert.Equal(t, schema.StatusClosed, st.Status)
	assert.True(t, st.Status.Terminal())
	assert.Empty(t, st.UnreadMessages)
	assert.Len(t, st.PastMessages, 1)
}

func TestMarkErrorKeepsUnread(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithNewMessage(UserMessage("alice@example.com", "Hi", "one"))

	st = st.MarkError()

	assert.Equal(t, schema.StatusError, st.Status)
	assert.True(t, st.Status.Terminal())
	// Kept for inspection, not folded into history.
	assert.Len(t, st.UnreadMessages, 1)
	assert.Empty(t, st.PastMessages)
}

func TestMarkFollowUp(t *testing.T) {
	st := New("alice@example.com").MarkWaitingReply().MarkFollowUp()
	assert.Equal(t, schema.StatusFollowUp, st.Status)
	assert.False(t, st.Status.Terminal())
}

func TestWithExtractedDetails(t *testing.T) {
	st := New("alice@example.com")
	st = st.WithExtractedDetails(client.PropertyDetails{
		Location:        "Lisbon",
		PropertyType:    "apartment",
		TransactionType: client.TransactionRent,
	})

	require.NotNil(t, st.Details)
	assert.Equal(t, "Lisbon", st.Details.Location)
}

func TestTransitionsDoNotMutateReceiver(t *testing.T) {
	base := New("alice@example.com")
	base = base.WithNewMessage(UserMessage("alice@example.com", "Hi", "one"))

	_ = base.MarkWaitingReply()
	_ = base.WithNewMessage(UserMessage("alice@example.com", "Hi", "two"))

	assert.Equal(t, schema.StatusCollecting, base.Status)
	assert.Len(t, base.UnreadMessages, 1)
	assert.Empty(t, base.PastMessages)
}

func TestMessageRenderFormat(t *testing.T) {
	m := UserMessage("alice@example.com", "Looking to rent", "Hi, I want a flat in Lisbon")

	want := "<from>alice@example.com</from>\n<subject>Looking to rent</subject>\n<content>Hi, I want a flat in Lisbon</content>\n\n"
	assert.Equal(t, want, m.Render())
}

func TestRenderAllConcatenates(t *testing.T) {
	msgs := []Message{
		UserMessage("a@x.com", "s1", "c1"),
		UserMessage("a@x.com", "s2", "c2"),
	}
	assert.Equal(t, msgs[0].Render()+msgs[1].Render(), RenderAll(msgs))
	assert.Equal(t, "", RenderAll(nil))
}

func TestAssistantMessageSender(t *testing.T) {
	m := AssistantMessage("Re: Hi", "What city?")
	assert.Equal(t, AssistantAddress, m.Sender)
	assert.Equal(t, schema.SenderAssistant, m.SenderType)
}
