package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/homeflowhq/homeflow/internal/client"
	"github.com/homeflowhq/homeflow/internal/prospect"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// maxToolTurns bounds the tool-calling loop within a single decision.
const maxToolTurns = 8

// ChatCompleter is the slice of the reasoning service client the agent
// needs. Satisfied by *openai.Client.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Outcome is the result of one agent decision round.
// Decision is DecisionUnrecognized for anything the engine should pause on;
// Raw carries the verbatim terminal text for logging. Details and Sent
// surface tool side effects so the engine can record them in the
// conversation state.
type Outcome struct {
	Decision schema.Decision
	Raw      string
	Details  *client.PropertyDetails
	Sent     []prospect.Message
}

// Agent adapts the reasoning service to the workflow: it renders the
// conversation, runs the tool-calling loop against a closed tool set, and
// interprets the terminal decision token.
type Agent struct {
	chat   ChatCompleter
	model  string
	tools  *ToolSet
	logger *slog.Logger
}

// New creates a reasoning agent adapter.
func New(chat ChatCompleter, model string, tools *ToolSet, logger *slog.Logger) *Agent {
	return &Agent{chat: chat, model: model, tools: tools, logger: logger}
}

// Decide runs one reasoning round over the conversation. A transport-level
// failure of the reasoning service is returned as an error so the engine's
// retry policy applies; every other problem (undecodable response, tool
// failure, unrecognized token) is absorbed into an unrecognized Outcome.
func (a *Agent) Decide(ctx context.Context, sessionKey string, past, unread []prospect.Message) (Outcome, error) {
	messages := a.renderConversation(past, unread)
	tools := a.tools.Definitions()

	var outcome Outcome
	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := a.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:      a.model,
			Messages:   messages,
			Tools:      tools,
			ToolChoice: "auto",
		})
		if err != nil {
			return Outcome{}, schema.NewErrorf(schema.ErrCodeExecution,
				"reasoning service call: %s", err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"session": sessionKey})
		}
		if len(resp.Choices) == 0 {
			a.logger.ErrorContext(ctx, "empty completion from reasoning service")
			outcome.Raw = "empty completion from reasoning service"
			return outcome, nil
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			token := strings.TrimSpace(msg.Content)
			outcome.Raw = token
			outcome.Decision = parseDecision(token)
			return outcome, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			result := a.dispatchSafe(ctx, tc.Function.Name, tc.Function.Arguments)
			if result.Details != nil {
				outcome.Details = result.Details
			}
			if result.Sent != nil {
				outcome.Sent = append(outcome.Sent, *result.Sent)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result.Content,
				ToolCallID: tc.ID,
			})
		}
	}

	a.logger.ErrorContext(ctx, "tool loop exceeded turn budget",
		slog.Int("max_turns", maxToolTurns))
	outcome.Raw = fmt.Sprintf("tool loop exceeded %d turns", maxToolTurns)
	outcome.Decision = schema.DecisionUnrecognized
	return outcome, nil
}

// dispatchSafe executes a tool call, converting panics into tool-error
// feedback instead of letting them escape the decision round.
func (a *Agent) dispatchSafe(ctx context.Context, name, args string) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "tool call panicked",
				slog.String("tool", name),
				slog.Any("panic", r))
			result = ToolResult{Content: fmt.Sprintf("The tool '%s' failed: %v", name, r)}
		}
	}()
	return a.tools.Dispatch(ctx, name, args)
}

// renderConversation maps the prospect's message history into the reasoning
// service's conversational schema. Past messages keep their author roles;
// the unread batch is concatenated into the final user turn, preserving the
// tagged-field rendering of each message.
func (a *Agent) renderConversation(past, unread []prospect.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(past)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemInstruction,
	})
	for _, m := range past {
		role := openai.ChatMessageRoleUser
		if m.SenderType == schema.SenderAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Render(),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prospect.RenderAll(unread),
	})
	return messages
}

func parseDecision(token string) schema.Decision {
	switch token {
	case string(schema.DecisionWaitReply):
		return schema.DecisionWaitReply
	case string(schema.DecisionAllInfoCollected):
		return schema.DecisionAllInfoCollected
	default:
		return schema.DecisionUnrecognized
	}
}
