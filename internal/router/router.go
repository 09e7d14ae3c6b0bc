package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/llm"
	"github.com/voxmail/voxmail/internal/logging"
	"github.com/voxmail/voxmail/internal/rules"
)

// Status classifies how a turn ended.
type Status string

const (
	// StatusText means the model answered in prose with no tool call.
	StatusText Status = "text"
	// StatusToolResult means one tool ran and produced a result.
	StatusToolResult Status = "tool_result"
	// StatusValidationFailed means the model's tool call did not satisfy
	// the tool's schema; no handler ran.
	StatusValidationFailed Status = "validation_failed"
	// StatusToolFailed means the handler ran and returned an error.
	StatusToolFailed Status = "tool_failed"
)

// MailActions is the per-session mail surface the router dispatches to.
// Implemented by *gmail.Client.
type MailActions interface {
	ListUnread(ctx context.Context, max int64) ([]gmail.EmailSummary, error)
	Archive(ctx context.Context, id string) error
	Trash(ctx context.Context, id string) error
	SendReply(ctx context.Context, to, subject, body string) (string, error)
}

// RuleApplier maintains sender-domain rules. Implemented by
// *rules.Reconciler.
type RuleApplier interface {
	ApplyDomain(ctx context.Context, domain string, kind rules.ActionKind) (rules.Outcome, error)
}

// Deps are the handlers for one turn, built per request once the session's
// credential has been validated.
type Deps struct {
	Mail  MailActions
	Rules RuleApplier
}

// TurnResult is the structured outcome of one chat turn. The caller feeds
// it back into the conversation.
type TurnResult struct {
	TurnID        string `json:"turnId"`
	Status        Status `json:"status"`
	AssistantText string `json:"assistantText,omitempty"`
	ToolName      string `json:"toolName,omitempty"`
	ToolResult    any    `json:"toolResult,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Router drives the model and dispatches its tool calls.
type Router struct {
	llm    llm.Client
	tools  map[string]llm.Tool
	logger *slog.Logger
}

func NewRouter(client llm.Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	tools := make(map[string]llm.Tool)
	for _, t := range llm.AssistantTools() {
		tools[t.Name] = t
	}
	return &Router{llm: client, tools: tools, logger: logger}
}

// RunTurn executes one exchange. When the model asks for several tool calls
// only the first is honored; one action per turn keeps every mutation
// attributable to a single user-visible step. Handler failures end the turn
// as a reported result, not an error: the conversation continues.
func (r *Router) RunTurn(ctx context.Context, deps Deps, history []llm.Message) (TurnResult, error) {
	turnID := uuid.NewString()
	log := r.logger.With(logging.Turn(turnID))

	completion, err := r.llm.Complete(ctx, history)
	if err != nil {
		return TurnResult{}, fmt.Errorf("complete chat turn: %w", err)
	}

	if len(completion.ToolCalls) == 0 {
		return TurnResult{
			TurnID:        turnID,
			Status:        StatusText,
			AssistantText: completion.Text,
		}, nil
	}

	call := completion.ToolCalls[0]
	if skipped := len(completion.ToolCalls) - 1; skipped > 0 {
		log.Info("ignoring extra tool calls",
			logging.Tool(call.Name),
			slog.Int("skipped", skipped))
	}

	result := TurnResult{
		TurnID:        turnID,
		AssistantText: completion.Text,
		ToolName:      call.Name,
	}

	tool, known := r.tools[call.Name]
	if !known {
		result.Status = StatusValidationFailed
		result.Error = fmt.Sprintf("unknown tool %q", call.Name)
		log.Warn("model requested unknown tool", logging.Tool(call.Name))
		return result, nil
	}

	if err := tool.ValidateArgs(call.Arguments); err != nil {
		var verr *llm.ValidationError
		if !errors.As(err, &verr) {
			return TurnResult{}, err
		}
		result.Status = StatusValidationFailed
		result.Error = verr.Error()
		log.Warn("tool call failed validation",
			logging.Tool(call.Name),
			logging.Err(err))
		return result, nil
	}

	payload, err := r.dispatch(ctx, deps, call)
	if err != nil {
		result.Status = StatusToolFailed
		result.Error = err.Error()
		log.Warn("tool handler failed",
			logging.Tool(call.Name),
			logging.Err(err))
		return result, nil
	}

	result.Status = StatusToolResult
	result.ToolResult = payload
	log.Info("dispatched tool call",
		logging.Tool(call.Name),
		logging.Status(logging.StatusSuccess))
	return result, nil
}

// ActionResult reports a single-message mutation.
type ActionResult struct {
	EmailID string `json:"emailId"`
	Action  string `json:"action"`
}

// ReplyResult reports a sent reply.
type ReplyResult struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

func (r *Router) dispatch(ctx context.Context, deps Deps, call llm.ToolCall) (any, error) {
	switch call.Name {
	case "fetch_unread_emails":
		var args struct {
			NumberOfEmails float64 `json:"number_of_emails"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, err
		}
		return deps.Mail.ListUnread(ctx, int64(args.NumberOfEmails))

	case "send_reply":
		var args struct {
			EmailAddress string `json:"email_address"`
			ReplyMessage string `json:"reply_message"`
			Subject      string `json:"subject"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, err
		}
		id, err := deps.Mail.SendReply(ctx, args.EmailAddress, args.Subject, args.ReplyMessage)
		if err != nil {
			return nil, err
		}
		return ReplyResult{MessageID: id, To: args.EmailAddress}, nil

	case "archive_email":
		var args struct {
			EmailID string `json:"email_id"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, err
		}
		if err := deps.Mail.Archive(ctx, args.EmailID); err != nil {
			return nil, err
		}
		return ActionResult{EmailID: args.EmailID, Action: "archived"}, nil

	case "trash_email":
		var args struct {
			EmailID string `json:"email_id"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, err
		}
		if err := deps.Mail.Trash(ctx, args.EmailID); err != nil {
			return nil, err
		}
		return ActionResult{EmailID: args.EmailID, Action: "trashed"}, nil

	case "block_email_sender":
		return r.applySenderRule(ctx, deps, call.Arguments, rules.ActionTrash)

	case "archive_email_sender":
		return r.applySenderRule(ctx, deps, call.Arguments, rules.ActionArchive)
	}

	return nil, fmt.Errorf("no handler for tool %q", call.Name)
}

func (r *Router) applySenderRule(ctx context.Context, deps Deps, raw json.RawMessage, kind rules.ActionKind) (any, error) {
	var args struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return deps.Rules.ApplyDomain(ctx, args.Domain, kind)
}
