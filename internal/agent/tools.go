package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	openai "github.com/sashabaranov/go-openai"

	"github.com/homeflowhq/homeflow/internal/client"
	"github.com/homeflowhq/homeflow/internal/mail"
	"github.com/homeflowhq/homeflow/internal/prospect"
)

// Registered tool names. This closed set is the whole capability surface the
// reasoning service is granted; anything else is answered with a tool error.
const (
	ToolSendEmail      = "send_email"
	ToolSaveClientInfo = "save_client_info"
)

const sendEmailSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://homeflow.dev/schemas/send_email.json",
  "type": "object",
  "required": ["address", "subject", "content"],
  "properties": {
    "address": {"type": "string", "minLength": 1, "description": "destination email"},
    "subject": {"type": "string", "minLength": 1, "description": "subject of the email to reply to"},
    "content": {"type": "string", "minLength": 1, "description": "content of the email"}
  },
  "additionalProperties": false
}`

const saveClientInfoSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://homeflow.dev/schemas/save_client_info.json",
  "type": "object",
  "required": ["name", "email"],
  "properties": {
    "name": {"type": "string", "description": "customer's full name"},
    "email": {"type": "string", "description": "customer's email address"},
    "phone": {"type": "string", "description": "customer's phone number"},
    "location": {"type": "string", "description": "city / country of interest"},
    "property_type": {"type": "string", "description": "type of property (apartment or house)"},
    "transaction_type": {"type": "string", "description": "transaction type (buy or rent)"}
  },
  "additionalProperties": false
}`

// ToolResult is the outcome of one tool invocation. Content goes back into
// the conversation verbatim; the other fields surface side effects to the
// caller.
type ToolResult struct {
	Content string
	Details *client.PropertyDetails
	Sent    *prospect.Message
}

// ToolSet validates and executes the registered tools.
type ToolSet struct {
	clients *client.Store
	mail    mail.Sender
	logger  *slog.Logger
	schemas map[string]*jsonschema.Schema
}

// NewToolSet compiles the tool argument schemas and wires the side-effect
// collaborators.
func NewToolSet(clients *client.Store, sender mail.Sender, logger *slog.Logger) (*ToolSet, error) {
	c := jsonschema.NewCompiler()

	schemas := make(map[string]*jsonschema.Schema, 2)
	for name, src := range map[string]string{
		ToolSendEmail:      sendEmailSchemaJSON,
		ToolSaveClientInfo: saveClientInfoSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		url := fmt.Sprintf("https://homeflow.dev/schemas/%s.json", name)
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		schemas[name] = compiled
	}

	return &ToolSet{
		clients: clients,
		mail:    sender,
		logger:  logger,
		schemas: schemas,
	}, nil
}

// Definitions returns the tool declarations in the reasoning service's
// function-calling format.
func (t *ToolSet) Definitions() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolSendEmail,
				Description: "Send email to customer. Use only when customer has not provided all the required information.",
				Parameters:  json.RawMessage(sendEmailSchemaJSON),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolSaveClientInfo,
				Description: "Save customer information. Use **ONLY** if all required information is collected.",
				Parameters:  json.RawMessage(saveClientInfoSchemaJSON),
			},
		},
	}
}

// Dispatch executes a tool call. Every failure mode — hallucinated name,
// malformed arguments, validation or side-effect errors — is converted into
// an error string in Content so the reasoning service can self-correct
// within the same turn; Dispatch itself never returns an error.
func (t *ToolSet) Dispatch(ctx context.Context, name, rawArgs string) ToolResult {
	if _, ok := t.schemas[name]; !ok {
		t.logger.WarnContext(ctx, "hallucinated tool call", slog.String("tool", name))
		return ToolResult{Content: fmt.Sprintf("The tool '%s' does not exist.", name)}
	}

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Invalid arguments for %s: %s", name, err)}
	}
	if err := t.schemas[name].Validate(args); err != nil {
		return ToolResult{Content: fmt.Sprintf("Invalid arguments for %s: %s", name, err)}
	}

	switch name {
	case ToolSendEmail:
		return t.sendEmail(ctx, args)
	case ToolSaveClientInfo:
		return t.saveClientInfo(ctx, args)
	}
	return ToolResult{Content: fmt.Sprintf("The tool '%s' does not exist.", name)}
}

func (t *ToolSet) sendEmail(ctx context.Context, args map[string]any) ToolResult {
	address := str(args, "address")
	subject := str(args, "subject")
	content := str(args, "content")

	if err := t.mail.Send(ctx, address, subject, content); err != nil {
		t.logger.ErrorContext(ctx, "send_email tool failed", slog.String("error", err.Error()))
		return ToolResult{Content: fmt.Sprintf("Failed to send email: %s", err)}
	}

	sent := prospect.AssistantMessage(subject, content)
	return ToolResult{
		Content: fmt.Sprintf("Email was sent to %s. Wait for a reply.", address),
		Sent:    &sent,
	}
}

func (t *ToolSet) saveClientInfo(ctx context.Context, args map[string]any) ToolResult {
	name := str(args, "name")
	email := str(args, "email")
	phone := str(args, "phone")

	details, err := client.NewPropertyDetails(
		str(args, "location"),
		str(args, "property_type"),
		str(args, "transaction_type"),
	)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Failed to save customer information: %s", err)}
	}

	cmd := client.SaveClientInfo{
		Name:    name,
		Email:   email,
		Phone:   phone,
		Details: &details,
	}
	if err := t.clients.Save(ctx, cmd); err != nil {
		t.logger.ErrorContext(ctx, "save_client_info tool failed", slog.String("error", err.Error()))
		return ToolResult{Content: fmt.Sprintf("Failed to save customer information: %s", err)}
	}

	return ToolResult{
		Content: fmt.Sprintf("Successfully saved customer information for %s", name),
		Details: &details,
	}
}

func decodeArgs(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
