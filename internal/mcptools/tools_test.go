package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/voxmail/voxmail/internal/credential"
	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/google"
	"github.com/voxmail/voxmail/internal/server"
)

type memRepo struct {
	creds map[string]credential.Credential
}

func (m *memRepo) Load(_ context.Context, sessionID string) (credential.Credential, error) {
	cred, ok := m.creds[sessionID]
	if !ok {
		return credential.Credential{}, credential.ErrNotFound
	}
	return cred, nil
}

func (m *memRepo) Save(_ context.Context, sessionID string, cred credential.Credential) error {
	m.creds[sessionID] = cred
	return nil
}

type failingRefresher struct{}

func (failingRefresher) Refresh(context.Context, string) (credential.Credential, error) {
	return credential.Credential{}, errors.New("no refresh in tests")
}

type fakeMail struct {
	unread  []gmail.EmailSummary
	filters []gmail.Filter
	calls   []string
}

func (f *fakeMail) ListUnread(_ context.Context, max int64) ([]gmail.EmailSummary, error) {
	f.calls = append(f.calls, fmt.Sprintf("list:%d", max))
	return f.unread, nil
}

func (f *fakeMail) Archive(_ context.Context, id string) error {
	f.calls = append(f.calls, "archive:"+id)
	return nil
}

func (f *fakeMail) Trash(_ context.Context, id string) error {
	f.calls = append(f.calls, "trash:"+id)
	return nil
}

func (f *fakeMail) SendReply(_ context.Context, to, _, _ string) (string, error) {
	f.calls = append(f.calls, "reply:"+to)
	return "sent-1", nil
}

func (f *fakeMail) ListFilters(context.Context) ([]gmail.Filter, error) {
	return f.filters, nil
}

func (f *fakeMail) CreateFilter(_ context.Context, from string, action gmail.FilterAction) (gmail.Filter, error) {
	created := gmail.Filter{ID: "f-new", From: from, Action: action}
	f.filters = append(f.filters, created)
	return created, nil
}

func (f *fakeMail) DeleteFilter(context.Context, string) error {
	return nil
}

func newTestDeps(t *testing.T) (Deps, *fakeMail, *memRepo) {
	t.Helper()

	store := credential.NewStore(time.Hour, nil)
	t.Cleanup(store.Stop)

	repo := &memRepo{creds: make(map[string]credential.Credential)}
	mail := &fakeMail{}

	deps := Deps{
		Manager: credential.NewManager(store, repo, failingRefresher{}, nil),
		Google: &google.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/api/auth/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.example.com/auth",
				TokenURL: "https://accounts.example.com/token",
			},
		},
		MailFactory: func(context.Context, credential.Credential) (server.MailClient, error) {
			return mail, nil
		},
	}
	return deps, mail, repo
}

func authorize(t *testing.T, deps Deps, repo *memRepo) {
	t.Helper()
	repo.creds[DefaultSession] = credential.Credential{
		AccessToken: "tok",
		ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
	}
}

// callTool drives the server through its JSON-RPC entry point the way a
// stdio client would.
func callTool(t *testing.T, s *mcpserver.MCPServer, name string, args map[string]any) string {
	t.Helper()

	init, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2024-11-05",
			"clientInfo":      map[string]any{"name": "test", "version": "0"},
			"capabilities":    map[string]any{},
		},
	})
	require.NoError(t, err)
	s.HandleMessage(context.Background(), init)

	call, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tools/call",
		"params": map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	response := s.HandleMessage(context.Background(), call)
	raw, err := json.Marshal(response)
	require.NoError(t, err)
	return string(raw)
}

func newToolServer(t *testing.T, deps Deps) *mcpserver.MCPServer {
	t.Helper()
	s := mcpserver.NewMCPServer("voxmail-test", "0.0.0",
		mcpserver.WithToolCapabilities(false))
	require.NoError(t, Register(s, deps))
	return s
}

func TestRegisterRequiresManagerAndGoogle(t *testing.T) {
	s := mcpserver.NewMCPServer("voxmail-test", "0.0.0")
	assert.Error(t, Register(s, Deps{}))
}

func TestFetchUnreadEmails(t *testing.T) {
	deps, mail, repo := newTestDeps(t)
	authorize(t, deps, repo)
	mail.unread = []gmail.EmailSummary{{ID: "m1", Subject: "hello", From: "a@b.example"}}

	s := newToolServer(t, deps)
	out := callTool(t, s, "fetch_unread_emails", map[string]any{"number_of_emails": 3})

	assert.Contains(t, out, `\"id\":\"m1\"`)
	assert.Equal(t, []string{"list:3"}, mail.calls)
}

func TestToolsRequireAuthorization(t *testing.T) {
	deps, mail, _ := newTestDeps(t)

	s := newToolServer(t, deps)
	out := callTool(t, s, "fetch_unread_emails", map[string]any{})

	assert.Contains(t, out, "authorization required")
	assert.Contains(t, out, "accounts.example.com")
	assert.Empty(t, mail.calls)
}

func TestArchiveAndTrashEmail(t *testing.T) {
	deps, mail, repo := newTestDeps(t)
	authorize(t, deps, repo)
	s := newToolServer(t, deps)

	callTool(t, s, "archive_email", map[string]any{"email_id": "m1"})
	callTool(t, s, "trash_email", map[string]any{"email_id": "m2"})

	assert.Equal(t, []string{"archive:m1", "trash:m2"}, mail.calls)
}

func TestSendReplyValidation(t *testing.T) {
	deps, mail, repo := newTestDeps(t)
	authorize(t, deps, repo)
	s := newToolServer(t, deps)

	out := callTool(t, s, "send_reply", map[string]any{"email_address": "a@b.example"})
	assert.Contains(t, out, "reply_message")
	assert.Empty(t, mail.calls)

	out = callTool(t, s, "send_reply", map[string]any{
		"email_address": "a@b.example",
		"subject":       "Re: hi",
		"reply_message": "thanks",
	})
	assert.Contains(t, out, "sent-1")
	assert.Equal(t, []string{"reply:a@b.example"}, mail.calls)
}

func TestBlockSenderCreatesTrashRule(t *testing.T) {
	deps, mail, repo := newTestDeps(t)
	authorize(t, deps, repo)
	s := newToolServer(t, deps)

	out := callTool(t, s, "block_email_sender", map[string]any{"domain": "ads.example.com"})
	assert.Contains(t, out, `\"created\":true`)

	require.Len(t, mail.filters, 1)
	assert.Equal(t, []string{"TRASH"}, mail.filters[0].Action.AddLabelIDs)
}

func TestBlockSenderRejectsInvalidDomain(t *testing.T) {
	deps, mail, repo := newTestDeps(t)
	authorize(t, deps, repo)
	s := newToolServer(t, deps)

	out := callTool(t, s, "block_email_sender", map[string]any{"domain": "not-a-domain"})
	assert.Contains(t, out, "invalid")
	assert.Empty(t, mail.filters)
}
