package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/voxmail/voxmail/internal/credential"
	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/llm"
	"github.com/voxmail/voxmail/internal/logging"
	"github.com/voxmail/voxmail/internal/router"
	"github.com/voxmail/voxmail/internal/rules"
)

const defaultEmailCount = 5

// session is the per-request bundle handlers work with once the credential
// has been validated.
type session struct {
	ID    string
	Mail  MailClient
	Rules router.RuleApplier
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

// withSession resolves the session cookie, obtains a valid credential, and
// builds the per-request mail client and rule reconciler.
func (s *Server) withSession(fn sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			s.writeError(w, http.StatusUnauthorized, "please re-authenticate")
			return
		}

		cred, err := s.manager.GetValid(r.Context(), cookie.Value)
		if err != nil {
			s.mapError(w, r, err)
			return
		}

		mail, err := s.mailFactory(r.Context(), cred)
		if err != nil {
			s.mapError(w, r, err)
			return
		}

		fn(w, r, &session{
			ID:    cookie.Value,
			Mail:  mail,
			Rules: rules.NewReconciler(mail, s.logger),
		})
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.writeJSON(w, http.StatusOK, map[string]string{
		"authUrl": s.google.AuthURL(state),
	})
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	if stateC, err := r.Cookie(stateCookie); err != nil || stateC.Value != r.URL.Query().Get("state") {
		s.writeError(w, http.StatusBadRequest, "authorization state mismatch")
		return
	}

	cred, err := s.google.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("authorization code exchange failed", logging.Err(err))
		s.writeError(w, http.StatusBadRequest, "authorization code exchange failed")
		return
	}

	sessionID := uuid.NewString()
	if err := s.manager.Establish(r.Context(), sessionID, cred); err != nil {
		s.mapError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	// Drop the consumed state cookie.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/auth", MaxAge: -1})

	s.metrics.IncrementActiveSessions(r.Context())
	s.logger.Info("session established", logging.SessionHash(sessionID))
	s.writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request, sess *session) {
	count := int64(defaultEmailCount)
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = parsed
	}

	start := time.Now()
	emails, err := sess.Mail.ListUnread(r.Context(), count)
	s.recordMailOp(r, "messages.list", err, start)
	if err != nil {
		s.mapError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"emails": emails})
}

func (s *Server) handleArchiveEmail(w http.ResponseWriter, r *http.Request, sess *session) {
	id := r.PathValue("id")
	start := time.Now()
	err := sess.Mail.Archive(r.Context(), id)
	s.recordMailOp(r, "messages.modify", err, start)
	if err != nil {
		s.mapError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, router.ActionResult{EmailID: id, Action: "archived"})
}

func (s *Server) handleTrashEmail(w http.ResponseWriter, r *http.Request, sess *session) {
	id := r.PathValue("id")
	start := time.Now()
	err := sess.Mail.Trash(r.Context(), id)
	s.recordMailOp(r, "messages.modify", err, start)
	if err != nil {
		s.mapError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, router.ActionResult{EmailID: id, Action: "trashed"})
}

func (s *Server) handleArchiveSender(w http.ResponseWriter, r *http.Request, sess *session) {
	s.applySenderRule(w, r, sess, rules.ActionArchive)
}

func (s *Server) handleBlockSender(w http.ResponseWriter, r *http.Request, sess *session) {
	s.applySenderRule(w, r, sess, rules.ActionTrash)
}

func (s *Server) applySenderRule(w http.ResponseWriter, r *http.Request, sess *session, kind rules.ActionKind) {
	domain := r.PathValue("domain")

	outcome, err := sess.Rules.ApplyDomain(r.Context(), domain, kind)
	if err != nil {
		s.metrics.RecordRuleReconciliation(r.Context(), kind.String(), "error")
		s.mapError(w, r, err)
		return
	}

	s.metrics.RecordRuleReconciliation(r.Context(), kind.String(), outcomeLabel(outcome))
	s.writeJSON(w, http.StatusOK, outcome)
}

func outcomeLabel(o rules.Outcome) string {
	switch {
	case o.Created:
		return "created"
	case o.Merged:
		return "merged"
	default:
		return "unchanged"
	}
}

type replyRequest struct {
	EmailAddress string `json:"email_address"`
	Subject      string `json:"subject"`
	ReplyMessage string `json:"reply_message"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, sess *session) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EmailAddress == "" || req.Subject == "" || req.ReplyMessage == "" {
		s.writeError(w, http.StatusBadRequest, "email_address, subject and reply_message are required")
		return
	}

	start := time.Now()
	id, err := sess.Mail.SendReply(r.Context(), req.EmailAddress, req.Subject, req.ReplyMessage)
	s.recordMailOp(r, "messages.send", err, start)
	if err != nil {
		s.mapError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, router.ReplyResult{MessageID: id, To: req.EmailAddress})
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, sess *session) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	deps := router.Deps{Mail: sess.Mail, Rules: sess.Rules}
	result, err := s.router.RunTurn(r.Context(), deps, req.Messages)
	if err != nil {
		s.metrics.RecordChatTurn(r.Context(), "error")
		s.mapError(w, r, err)
		return
	}

	s.metrics.RecordChatTurn(r.Context(), string(result.Status))
	s.writeJSON(w, http.StatusOK, result)
}

// mapError translates domain errors into the API's status contract:
// credential problems are 401, caller mistakes are 400, provider failures
// are 500 naming the failing operation.
func (s *Server) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credential.ErrUnauthenticated), errors.Is(err, credential.ErrReauthRequired):
		s.writeError(w, http.StatusUnauthorized, "please re-authenticate")

	case errors.Is(err, rules.ErrInvalidDomain):
		s.writeError(w, http.StatusBadRequest, err.Error())

	default:
		var validation *llm.ValidationError
		if errors.As(err, &validation) {
			s.writeError(w, http.StatusBadRequest, validation.Error())
			return
		}

		// Rule errors wrap the provider error underneath, so check them
		// before the generic mail error.
		var ruleErr *rules.RemoteError
		if errors.As(err, &ruleErr) {
			s.logger.Error("rule reconciliation failed",
				logging.Operation(ruleErr.Op), logging.Err(err))
			s.writeError(w, http.StatusInternalServerError, "rule operation failed: "+ruleErr.Op)
			return
		}

		var gmailErr *gmail.RemoteError
		if errors.As(err, &gmailErr) {
			s.logger.Error("mail provider call failed",
				logging.Operation(gmailErr.Op), logging.Err(err))
			s.writeError(w, http.StatusInternalServerError, "mail provider operation failed: "+gmailErr.Op)
			return
		}

		s.logger.Error("request failed", logging.Err(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) recordMailOp(r *http.Request, op string, err error, start time.Time) {
	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
	}
	s.metrics.RecordMailOperation(r.Context(), op, status, time.Since(start))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", logging.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
