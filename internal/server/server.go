package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxmail/voxmail/internal/credential"
	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/google"
	"github.com/voxmail/voxmail/internal/instrumentation"
	"github.com/voxmail/voxmail/internal/logging"
	"github.com/voxmail/voxmail/internal/router"
	"github.com/voxmail/voxmail/internal/rules"
)

// SessionCookie carries the session ID between requests.
const SessionCookie = "voxmail_session"

// stateCookie carries the OAuth state nonce across the consent redirect.
const stateCookie = "voxmail_oauth_state"

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
)

// MailClient is everything the server needs from one session's mail
// provider: direct actions plus filter management.
type MailClient interface {
	router.MailActions
	rules.FilterService
}

// MailFactory builds a mail client from an already-valid credential. The
// default factory creates a Gmail client; tests substitute fakes.
type MailFactory func(ctx context.Context, cred credential.Credential) (MailClient, error)

// Options configures the HTTP server.
type Options struct {
	Addr        string
	Logger      *slog.Logger
	Manager     *credential.Manager
	Google      *google.Config
	Router      *router.Router
	Metrics     *instrumentation.Metrics
	MailFactory MailFactory
	SessionTTL  time.Duration
}

// Server is the assistant's HTTP surface.
type Server struct {
	addr        string
	logger      *slog.Logger
	manager     *credential.Manager
	google      *google.Config
	router      *router.Router
	metrics     *instrumentation.Metrics
	mailFactory MailFactory
	sessionTTL  time.Duration
	health      *HealthChecker

	httpServer *http.Server
}

// New creates the server. Metrics may be nil.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = &instrumentation.Metrics{}
	}
	if opts.MailFactory == nil {
		opts.MailFactory = func(ctx context.Context, cred credential.Credential) (MailClient, error) {
			return gmail.NewClient(ctx, cred)
		}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}

	return &Server{
		addr:        opts.Addr,
		logger:      opts.Logger,
		manager:     opts.Manager,
		google:      opts.Google,
		router:      opts.Router,
		metrics:     opts.Metrics,
		mailFactory: opts.MailFactory,
		sessionTTL:  opts.SessionTTL,
		health:      NewHealthChecker(),
	}
}

// Handler assembles the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/auth", s.observe(http.HandlerFunc(s.handleAuth)))
	mux.Handle("GET /api/auth/callback", s.observe(http.HandlerFunc(s.handleAuthCallback)))

	mux.Handle("GET /api/emails", s.observe(s.withSession(s.handleListEmails)))
	mux.Handle("POST /api/emails/{id}/archive", s.observe(s.withSession(s.handleArchiveEmail)))
	mux.Handle("POST /api/emails/{id}/trash", s.observe(s.withSession(s.handleTrashEmail)))
	mux.Handle("POST /api/senders/{domain}/archive", s.observe(s.withSession(s.handleArchiveSender)))
	mux.Handle("POST /api/senders/{domain}/block", s.observe(s.withSession(s.handleBlockSender)))
	mux.Handle("POST /api/reply", s.observe(s.withSession(s.handleReply)))
	mux.Handle("POST /api/chat", s.observe(s.withSession(s.handleChat)))

	s.health.RegisterHealthEndpoints(mux)

	return mux
}

// observe wraps a handler with request metrics keyed by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.Pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.health.SetReady(true)
	s.logger.Info("starting http server", slog.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.health.SetShuttingDown()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server", logging.Operation("shutdown"))
	return s.httpServer.Shutdown(ctx)
}
