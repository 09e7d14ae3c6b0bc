package llm

import (
	"encoding/json"
	"fmt"
)

// Tool is a function the model may call, with a JSON-schema parameter block.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ValidationError reports tool-call arguments that do not satisfy the
// declared schema. The handler never runs when validation fails.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// toolSchema is the subset of JSON schema the tool declarations use:
// required scalar properties and no extra keys.
type toolSchema struct {
	Type                 string                    `json:"type"`
	Required             []string                  `json:"required"`
	Properties           map[string]schemaProperty `json:"properties"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

type schemaProperty struct {
	Type string `json:"type"`
}

// ValidateArgs checks a raw argument object against the tool's schema:
// required fields present, scalar types matching, no undeclared keys.
func (t Tool) ValidateArgs(raw json.RawMessage) error {
	fail := func(format string, a ...any) error {
		return &ValidationError{Tool: t.Name, Reason: fmt.Sprintf(format, a...)}
	}

	var schema toolSchema
	if err := json.Unmarshal(t.Parameters, &schema); err != nil {
		return fmt.Errorf("tool %s schema: %w", t.Name, err)
	}

	var args map[string]any
	if len(raw) == 0 {
		return fail("arguments are not a JSON object")
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail("arguments are not a JSON object")
	}

	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			return fail("missing required field %q", req)
		}
	}

	for key, value := range args {
		prop, declared := schema.Properties[key]
		if !declared {
			return fail("unexpected field %q", key)
		}
		if !matchesType(value, prop.Type) {
			return fail("field %q must be a %s", key, prop.Type)
		}
	}

	return nil
}

func matchesType(value any, schemaType string) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// AssistantTools returns the mail tool declarations advertised to the model.
func AssistantTools() []Tool {
	return []Tool{
		{
			Name:        "fetch_unread_emails",
			Description: "Fetch the most recent unread emails from a mailbox",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["mailbox_id", "number_of_emails", "include_attachments"],
				"properties": {
					"mailbox_id": {"type": "string", "description": "Unique identifier for the mailbox to fetch emails from"},
					"number_of_emails": {"type": "number", "description": "The number of unread emails to fetch, typically 5"},
					"include_attachments": {"type": "boolean", "description": "Whether to include attachments in the fetched emails"}
				},
				"additionalProperties": false
			}`),
		},
		{
			Name:        "send_reply",
			Description: "Send a reply to a specific email",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["email_address", "reply_message", "subject"],
				"properties": {
					"email_address": {"type": "string", "description": "The email address to which the reply will be sent"},
					"reply_message": {"type": "string", "description": "The message content of the reply"},
					"subject": {"type": "string", "description": "Subject line for the reply email"}
				},
				"additionalProperties": false
			}`),
		},
		{
			Name:        "archive_email",
			Description: "Archive a specific email, removing it from the inbox without deleting it",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["email_id"],
				"properties": {
					"email_id": {"type": "string", "description": "The identifier of the email to archive"}
				},
				"additionalProperties": false
			}`),
		},
		{
			Name:        "trash_email",
			Description: "Move a specific email to the trash",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["email_id"],
				"properties": {
					"email_id": {"type": "string", "description": "The identifier of the email to trash"}
				},
				"additionalProperties": false
			}`),
		},
		{
			Name:        "block_email_sender",
			Description: "Send all future email from a sender domain straight to the trash",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["domain"],
				"properties": {
					"domain": {"type": "string", "description": "The sender domain to block, e.g. ads.example.com"}
				},
				"additionalProperties": false
			}`),
		},
		{
			Name:        "archive_email_sender",
			Description: "Archive all future email from a sender domain, skipping the inbox",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["domain"],
				"properties": {
					"domain": {"type": "string", "description": "The sender domain to archive, e.g. news.example.com"}
				},
				"additionalProperties": false
			}`),
		},
	}
}
