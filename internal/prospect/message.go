package prospect

import (
	"fmt"

	"github.com/homeflowhq/homeflow/pkg/schema"
)

// AssistantAddress is the sender recorded on agent-authored messages.
const AssistantAddress = "agent@homeflow.local"

// Message is an immutable conversation entry. Render produces the
// tagged-field form the reasoning agent consumes; the tags are load-bearing
// for extraction quality and must not change.
type Message struct {
	SenderType schema.SenderType `json:"sender_type"`
	Sender     string            `json:"sender"`
	Subject    string            `json:"subject"`
	Content    string            `json:"content"`
}

// UserMessage builds an inbound customer message.
func UserMessage(sender, subject, content string) Message {
	return Message{
		SenderType: schema.SenderUser,
		Sender:     sender,
		Subject:    subject,
		Content:    content,
	}
}

// AssistantMessage builds an agent-authored message.
func AssistantMessage(subject, content string) Message {
	return Message{
		SenderType: schema.SenderAssistant,
		Sender:     AssistantAddress,
		Subject:    subject,
		Content:    content,
	}
}

// Render serializes the message into the fixed tagged-field textual form
// used verbatim as the agent's input unit.
func (m Message) Render() string {
	return fmt.Sprintf("<from>%s</from>\n<subject>%s</subject>\n<content>%s</content>\n\n",
		m.Sender, m.Subject, m.Content)
}

// RenderAll concatenates the rendered form of a message sequence.
func RenderAll(msgs []Message) string {
	var out string
	for _, m := range msgs {
		out += m.Render()
	}
	return out
}
