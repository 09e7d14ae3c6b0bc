package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/voxmail/voxmail/internal/credential"
	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/google"
	"github.com/voxmail/voxmail/internal/instrumentation"
	"github.com/voxmail/voxmail/internal/logging"
	"github.com/voxmail/voxmail/internal/router"
	"github.com/voxmail/voxmail/internal/rules"
	"github.com/voxmail/voxmail/internal/server"
)

// DefaultSession is the session ID used for the single local stdio user.
const DefaultSession = "default"

const defaultFetchCount = 5

// localOAuthState is the fixed state value for the copy-paste OAuth flow.
// Stdio clients paste the code back by hand, so there is no redirect to
// verify state against.
const localOAuthState = "local"

// Deps carries everything the tool handlers need.
type Deps struct {
	Manager     *credential.Manager
	Google      *google.Config
	MailFactory server.MailFactory
	Metrics     *instrumentation.Metrics
	Logger      *slog.Logger

	// SessionID keys the credential store entry; DefaultSession when empty.
	SessionID string
}

// Register adds the mail tools and the authorize tool to the MCP server.
func Register(s *mcpserver.MCPServer, deps Deps) error {
	if deps.Manager == nil || deps.Google == nil {
		return fmt.Errorf("mcptools: Manager and Google config are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = &instrumentation.Metrics{}
	}
	if deps.MailFactory == nil {
		deps.MailFactory = func(ctx context.Context, cred credential.Credential) (server.MailClient, error) {
			return gmail.NewClient(ctx, cred)
		}
	}
	if deps.SessionID == "" {
		deps.SessionID = DefaultSession
	}

	registerAuthorize(s, &deps)
	registerFetchUnread(s, &deps)
	registerSendReply(s, &deps)
	registerArchive(s, &deps)
	registerTrash(s, &deps)
	registerSenderRules(s, &deps)
	return nil
}

// mail resolves the local session into a client and reconciler. Credential
// errors come back as a tool result telling the user how to authorize.
func (d *Deps) mail(ctx context.Context) (server.MailClient, router.RuleApplier, *mcp.CallToolResult) {
	cred, err := d.Manager.GetValid(ctx, d.SessionID)
	if err != nil {
		if errors.Is(err, credential.ErrUnauthenticated) || errors.Is(err, credential.ErrReauthRequired) {
			return nil, nil, mcp.NewToolResultError(d.authInstructions())
		}
		return nil, nil, mcp.NewToolResultError(fmt.Sprintf("failed to load credentials: %v", err))
	}

	client, err := d.MailFactory(ctx, cred)
	if err != nil {
		return nil, nil, mcp.NewToolResultError(fmt.Sprintf("failed to create mail client: %v", err))
	}
	return client, rules.NewReconciler(client, d.Logger), nil
}

func (d *Deps) authInstructions() string {
	return fmt.Sprintf(`Google authorization required. To authorize access:

1. Visit this URL in your browser:
   %s

2. Sign in and grant access to Gmail
3. Copy the authorization code
4. Call the authorize tool with the code

Tokens are refreshed automatically after the first authorization.`,
		d.Google.AuthURL(localOAuthState))
}

// instrumented wraps a handler with per-tool dispatch metrics.
func (d *Deps) instrumented(toolName string, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := handler(ctx, request)

		status := instrumentation.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = instrumentation.StatusError
		}
		d.Metrics.RecordToolDispatch(ctx, toolName, status, time.Since(start))
		d.Logger.Debug("mcp tool handled",
			logging.Tool(toolName), logging.Status(status))
		return result, err
	}
}

func registerAuthorize(s *mcpserver.MCPServer, d *Deps) {
	tool := mcp.NewTool("authorize",
		mcp.WithDescription("Complete Google authorization with the code obtained from the consent page. Required once before any mail tool works."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("The authorization code copied from the Google consent page"),
		),
	)

	s.AddTool(tool, d.instrumented("authorize", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		code, ok := args["code"].(string)
		if !ok || code == "" {
			return mcp.NewToolResultError("code is required"), nil
		}

		cred, err := d.Google.Exchange(ctx, code)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("authorization code exchange failed: %v", err)), nil
		}
		if err := d.Manager.Establish(ctx, d.SessionID, cred); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store credentials: %v", err)), nil
		}

		d.Logger.Info("authorization completed", logging.SessionHash(d.SessionID))
		return mcp.NewToolResultText("Authorization complete. Mail tools are ready to use."), nil
	}))
}

func registerFetchUnread(s *mcpserver.MCPServer, d *Deps) {
	tool := mcp.NewTool("fetch_unread_emails",
		mcp.WithDescription("Fetch unread emails from the inbox with sender, subject and a snippet of the body"),
		mcp.WithString("mailbox_id",
			mcp.Description("Mailbox to read from (only 'INBOX' is supported)"),
		),
		mcp.WithNumber("number_of_emails",
			mcp.Description("How many unread emails to fetch (default: 5)"),
		),
		mcp.WithBoolean("include_attachments",
			mcp.Description("Reserved; attachment bodies are never fetched"),
		),
	)

	s.AddTool(tool, d.instrumented("fetch_unread_emails", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		client, _, errResult := d.mail(ctx)
		if errResult != nil {
			return errResult, nil
		}

		count := int64(defaultFetchCount)
		if n, ok := request.GetArguments()["number_of_emails"].(float64); ok && n > 0 {
			count = int64(n)
		}

		emails, err := client.ListUnread(ctx, count)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list unread emails: %v", err)), nil
		}
		return jsonResult(map[string]any{"emails": emails})
	}))
}

func registerSendReply(s *mcpserver.MCPServer, d *Deps) {
	tool := mcp.NewTool("send_reply",
		mcp.WithDescription("Send a reply email to the given address"),
		mcp.WithString("email_address",
			mcp.Required(),
			mcp.Description("Recipient address (e.g., 'sender@example.com')"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject line for the reply"),
		),
		mcp.WithString("reply_message",
			mcp.Required(),
			mcp.Description("Plain-text body of the reply"),
		),
	)

	s.AddTool(tool, d.instrumented("send_reply", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		to, _ := args["email_address"].(string)
		subject, _ := args["subject"].(string)
		body, _ := args["reply_message"].(string)
		if to == "" || subject == "" || body == "" {
			return mcp.NewToolResultError("email_address, subject and reply_message are required"), nil
		}

		client, _, errResult := d.mail(ctx)
		if errResult != nil {
			return errResult, nil
		}

		id, err := client.SendReply(ctx, to, subject, body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to send reply: %v", err)), nil
		}
		return jsonResult(router.ReplyResult{MessageID: id, To: to})
	}))
}

func registerArchive(s *mcpserver.MCPServer, d *Deps) {
	tool := mcp.NewTool("archive_email",
		mcp.WithDescription("Archive an email by removing it from the inbox"),
		mcp.WithString("email_id",
			mcp.Required(),
			mcp.Description("The ID of the email to archive (obtained from fetch_unread_emails)"),
		),
	)

	s.AddTool(tool, d.instrumented("archive_email", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, _ := request.GetArguments()["email_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("email_id is required"), nil
		}

		client, _, errResult := d.mail(ctx)
		if errResult != nil {
			return errResult, nil
		}

		if err := client.Archive(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to archive email: %v", err)), nil
		}
		return jsonResult(router.ActionResult{EmailID: id, Action: "archived"})
	}))
}

func registerTrash(s *mcpserver.MCPServer, d *Deps) {
	tool := mcp.NewTool("trash_email",
		mcp.WithDescription("Move an email to the trash"),
		mcp.WithString("email_id",
			mcp.Required(),
			mcp.Description("The ID of the email to trash (obtained from fetch_unread_emails)"),
		),
	)

	s.AddTool(tool, d.instrumented("trash_email", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, _ := request.GetArguments()["email_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("email_id is required"), nil
		}

		client, _, errResult := d.mail(ctx)
		if errResult != nil {
			return errResult, nil
		}

		if err := client.Trash(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to trash email: %v", err)), nil
		}
		return jsonResult(router.ActionResult{EmailID: id, Action: "trashed"})
	}))
}

func registerSenderRules(s *mcpserver.MCPServer, d *Deps) {
	block := mcp.NewTool("block_email_sender",
		mcp.WithDescription("Create or extend a filter that sends all future mail from a domain straight to the trash"),
		mcp.WithString("domain",
			mcp.Required(),
			mcp.Description("Sender domain to block (e.g., 'ads.example.com')"),
		),
	)
	s.AddTool(block, d.instrumented("block_email_sender", d.senderRuleHandler(rules.ActionTrash)))

	archive := mcp.NewTool("archive_email_sender",
		mcp.WithDescription("Create or extend a filter that archives all future mail from a domain, skipping the inbox"),
		mcp.WithString("domain",
			mcp.Required(),
			mcp.Description("Sender domain to auto-archive (e.g., 'newsletter.example.com')"),
		),
	)
	s.AddTool(archive, d.instrumented("archive_email_sender", d.senderRuleHandler(rules.ActionArchive)))
}

func (d *Deps) senderRuleHandler(kind rules.ActionKind) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		domain, _ := request.GetArguments()["domain"].(string)
		if domain == "" {
			return mcp.NewToolResultError("domain is required"), nil
		}

		_, applier, errResult := d.mail(ctx)
		if errResult != nil {
			return errResult, nil
		}

		outcome, err := applier.ApplyDomain(ctx, domain, kind)
		if err != nil {
			if errors.Is(err, rules.ErrInvalidDomain) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to apply sender rule: %v", err)), nil
		}
		return jsonResult(outcome)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
