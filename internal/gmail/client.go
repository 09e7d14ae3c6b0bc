package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/voxmail/voxmail/internal/credential"
)

// unreadQuery selects the messages the assistant treats as the inbox.
const unreadQuery = "is:unread in:inbox"

// Client wraps the Gmail Users service for a single authenticated session.
type Client struct {
	svc *gmail.UsersService
}

// NewClient creates a Gmail client from an already-valid credential. Token
// refresh is the credential manager's job, so the client uses a static token
// source. Extra options are for tests pointing at a local endpoint.
func NewClient(ctx context.Context, cred credential.Credential, opts ...option.ClientOption) (*Client, error) {
	if !cred.HasAccessToken() {
		return nil, credential.ErrUnauthenticated
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
	})
	all := append([]option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, src)),
	}, opts...)

	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{svc: svc.Users}, nil
}

// ListUnread returns up to max unread inbox messages, newest first, with the
// Subject and From headers resolved per message.
func (c *Client) ListUnread(ctx context.Context, max int64) ([]EmailSummary, error) {
	if max <= 0 {
		max = 10
	}

	res, err := c.svc.Messages.List("me").Q(unreadQuery).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, remoteErr("messages.list", err)
	}

	summaries := make([]EmailSummary, 0, len(res.Messages))
	for _, m := range res.Messages {
		full, err := c.svc.Messages.Get("me", m.Id).
			Format("metadata").
			MetadataHeaders("Subject", "From").
			Context(ctx).Do()
		if err != nil {
			return nil, remoteErr("messages.get", err)
		}
		summaries = append(summaries, EmailSummary{
			ID:      full.Id,
			Snippet: full.Snippet,
			Subject: headerValue(full, "Subject"),
			From:    headerValue(full, "From"),
		})
	}

	return summaries, nil
}

// Archive removes a message from the inbox without deleting it.
func (c *Client) Archive(ctx context.Context, id string) error {
	_, err := c.svc.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return remoteErr("messages.modify", err)
	}
	return nil
}

// Trash moves a message to the trash and out of the inbox.
func (c *Client) Trash(ctx context.Context, id string) error {
	_, err := c.svc.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		AddLabelIds:    []string{"TRASH"},
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return remoteErr("messages.modify", err)
	}
	return nil
}

// SendReply sends a plain-text message and returns the sent message ID.
func (c *Client) SendReply(ctx context.Context, to, subject, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient is required")
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if body == "" {
		return "", fmt.Errorf("body is required")
	}

	raw := buildRawMessage(to, subject, body)
	sent, err := c.svc.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", remoteErr("messages.send", err)
	}

	return sent.Id, nil
}

// buildRawMessage assembles an RFC 2822 plain-text message and encodes it
// base64url the way messages.send expects.
func buildRawMessage(to, subject, body string) string {
	var b strings.Builder
	b.WriteString("To: ")
	b.WriteString(to)
	b.WriteString("\r\n")
	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(subject))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// encodeRFC2047 encodes a header value when it carries non-ASCII characters,
// which plain RFC 2822 headers cannot represent.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

func headerValue(m *gmail.Message, header string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if h.Name == header {
			return h.Value
		}
	}
	return ""
}
