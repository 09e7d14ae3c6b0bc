package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/voxmail/voxmail/internal/credential"
	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/google"
	"github.com/voxmail/voxmail/internal/llm"
	"github.com/voxmail/voxmail/internal/router"
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

type stubRefresher struct {
	cred credential.Credential
	err  error
}

func (s stubRefresher) Refresh(context.Context, string) (credential.Credential, error) {
	return s.cred, s.err
}

type fakeMailClient struct {
	calls   []string
	unread  []gmail.EmailSummary
	filters []gmail.Filter
	err     error
}

func (f *fakeMailClient) ListUnread(_ context.Context, max int64) ([]gmail.EmailSummary, error) {
	f.calls = append(f.calls, "list")
	if f.err != nil {
		return nil, f.err
	}
	if int64(len(f.unread)) > max {
		return f.unread[:max], nil
	}
	return f.unread, nil
}

func (f *fakeMailClient) Archive(_ context.Context, id string) error {
	f.calls = append(f.calls, "archive:"+id)
	return f.err
}

func (f *fakeMailClient) Trash(_ context.Context, id string) error {
	f.calls = append(f.calls, "trash:"+id)
	return f.err
}

func (f *fakeMailClient) SendReply(_ context.Context, to, subject, body string) (string, error) {
	f.calls = append(f.calls, "reply:"+to)
	if f.err != nil {
		return "", f.err
	}
	return "sent-1", nil
}

func (f *fakeMailClient) ListFilters(context.Context) ([]gmail.Filter, error) {
	f.calls = append(f.calls, "filters.list")
	if f.err != nil {
		return nil, f.err
	}
	return f.filters, nil
}

func (f *fakeMailClient) CreateFilter(_ context.Context, from string, action gmail.FilterAction) (gmail.Filter, error) {
	f.calls = append(f.calls, "filters.create:"+from)
	if f.err != nil {
		return gmail.Filter{}, f.err
	}
	created := gmail.Filter{ID: "f-new", From: from, Action: action}
	f.filters = append(f.filters, created)
	return created, nil
}

func (f *fakeMailClient) DeleteFilter(_ context.Context, id string) error {
	f.calls = append(f.calls, "filters.delete:"+id)
	return f.err
}

type stubLLM struct {
	completion llm.Completion
	err        error
}

func (s stubLLM) Complete(context.Context, []llm.Message) (llm.Completion, error) {
	return s.completion, s.err
}

type testEnv struct {
	server  *Server
	mail    *fakeMailClient
	repo    *memRepo
	llm     *stubLLM
	manager *credential.Manager
}

func newTestEnv(t *testing.T, tokenURL string) *testEnv {
	t.Helper()

	store := credential.NewStore(time.Hour, nil)
	t.Cleanup(store.Stop)

	repo := &memRepo{creds: make(map[string]credential.Credential)}
	manager := credential.NewManager(store, repo, stubRefresher{err: errors.New("no refresh in tests")}, nil)

	mail := &fakeMailClient{}
	stub := &stubLLM{}

	env := &testEnv{
		mail:    mail,
		repo:    repo,
		llm:     stub,
		manager: manager,
	}

	env.server = New(Options{
		Addr:    ":0",
		Manager: manager,
		Google: &google.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/api/auth/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.example.com/auth",
				TokenURL: tokenURL,
			},
		},
		Router: router.NewRouter(stub, nil),
		MailFactory: func(context.Context, credential.Credential) (MailClient, error) {
			return mail, nil
		},
	})
	return env
}

// establishSession puts a valid credential in the store and returns the
// session cookie to send.
func establishSession(t *testing.T, env *testEnv) *http.Cookie {
	t.Helper()
	sessionID := "sess-test"
	err := env.manager.Establish(context.Background(), sessionID, credential.Credential{
		AccessToken: "tok",
		ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	return &http.Cookie{Name: SessionCookie, Value: sessionID}
}

func doRequest(t *testing.T, env *testEnv, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandleAuth(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")

	w := doRequest(t, env, http.MethodGet, "/api/auth", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	authURL, _ := body["authUrl"].(string)
	require.NotEmpty(t, authURL)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.NotEmpty(t, u.Query().Get("state"))

	var state *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			state = c
		}
	}
	require.NotNil(t, state, "state cookie must be set")
	assert.Equal(t, u.Query().Get("state"), state.Value)
	assert.True(t, state.HttpOnly)
}

func TestHandleAuthCallback(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, tokenSrv.URL)

	// Begin the flow to obtain the state cookie.
	authResp := doRequest(t, env, http.MethodGet, "/api/auth", "")
	var state *http.Cookie
	for _, c := range authResp.Result().Cookies() {
		if c.Name == stateCookie {
			state = c
		}
	}
	require.NotNil(t, state)

	w := doRequest(t, env, http.MethodGet, "/api/auth/callback?code=the-code&state="+state.Value, "", state)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sessionC *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			sessionC = c
		}
	}
	require.NotNil(t, sessionC, "session cookie must be set")
	assert.True(t, sessionC.HttpOnly)

	stored, ok := env.repo.creds[sessionC.Value]
	require.True(t, ok, "credential must be persisted")
	assert.Equal(t, "at", stored.AccessToken)
	assert.Equal(t, "rt", stored.RefreshToken)
}

func TestHandleAuthCallbackMissingCode(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")

	w := doRequest(t, env, http.MethodGet, "/api/auth/callback", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAuthCallbackStateMismatch(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")

	w := doRequest(t, env, http.MethodGet, "/api/auth/callback?code=x&state=forged", "",
		&http.Cookie{Name: stateCookie, Value: "genuine"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestsWithoutSessionAre401(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")

	for _, target := range []struct{ method, path string }{
		{http.MethodGet, "/api/emails"},
		{http.MethodPost, "/api/emails/m1/archive"},
		{http.MethodPost, "/api/chat"},
	} {
		w := doRequest(t, env, target.method, target.path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, target.path)
		assert.Contains(t, w.Body.String(), "please re-authenticate", target.path)
	}
}

func TestExpiredNonRenewableCredentialIs401(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	env.repo.creds["sess-old"] = credential.Credential{
		AccessToken: "tok",
		ExpiryDate:  time.Now().Add(-time.Hour).UnixMilli(),
	}

	w := doRequest(t, env, http.MethodGet, "/api/emails", "",
		&http.Cookie{Name: SessionCookie, Value: "sess-old"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "please re-authenticate")
}

func TestHandleListEmails(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	env.mail.unread = []gmail.EmailSummary{
		{ID: "m1", Subject: "a"},
		{ID: "m2", Subject: "b"},
		{ID: "m3", Subject: "c"},
	}
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodGet, "/api/emails?count=2", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	emails, _ := body["emails"].([]any)
	assert.Len(t, emails, 2)
}

func TestHandleListEmailsRejectsBadCount(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	for _, count := range []string{"zero", "-1", "0"} {
		w := doRequest(t, env, http.MethodGet, "/api/emails?count="+count, "", cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code, count)
	}
	assert.Empty(t, env.mail.calls)
}

func TestHandleArchiveAndTrash(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/emails/m1/archive", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, env, http.MethodPost, "/api/emails/m2/trash", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"archive:m1", "trash:m2"}, env.mail.calls)
}

func TestHandleBlockSender(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/senders/ads.example.com/block", "", cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, []any{"ads.example.com"}, body["domains"])

	require.Len(t, env.mail.filters, 1)
	assert.Equal(t, []string{"TRASH"}, env.mail.filters[0].Action.AddLabelIDs)
}

func TestHandleArchiveSenderInvalidDomain(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/senders/%20/archive", "", cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReply(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/reply",
		`{"email_address":"a@b.example","subject":"Re: hi","reply_message":"thanks"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "sent-1", body["messageId"])
	assert.Equal(t, []string{"reply:a@b.example"}, env.mail.calls)
}

func TestHandleReplyValidation(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/reply",
		`{"email_address":"a@b.example"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.mail.calls)
}

func TestHandleChatTextTurn(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	env.llm.completion = llm.Completion{Text: "All done."}
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/chat",
		`{"messages":[{"role":"user","content":"anything new?"}]}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "text", body["status"])
	assert.Equal(t, "All done.", body["assistantText"])
}

func TestHandleChatToolFailureStays200(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	env.llm.completion = llm.Completion{ToolCalls: []llm.ToolCall{
		{Name: "archive_email", Arguments: json.RawMessage(`{"email_id":"m1"}`)},
	}}
	env.mail.err = errors.New("message not found")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/chat",
		`{"messages":[{"role":"user","content":"archive it"}]}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, "handler failures are reported inside the turn")

	body := decodeBody(t, w)
	assert.Equal(t, "tool_failed", body["status"])
	assert.Contains(t, body["error"], "message not found")
}

func TestHandleChatLLMFailureIs500(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	env.llm.err = errors.New("upstream down")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/chat",
		`{"messages":[{"role":"user","content":"hi"}]}`, cookie)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleChatEmptyMessages(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodPost, "/api/chat", `{"messages":[]}`, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoteFailureIs500NamingOperation(t *testing.T) {
	env := newTestEnv(t, "https://accounts.example.com/token")
	env.mail.err = &gmail.RemoteError{Op: "messages.list", Err: errors.New("backend unavailable")}
	cookie := establishSession(t, env)

	w := doRequest(t, env, http.MethodGet, "/api/emails", "", cookie)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "messages.list")
}
