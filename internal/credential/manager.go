package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxmail/voxmail/internal/logging"
)

// Refresher exchanges a refresh token for a new access token at the
// provider's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// Repository is the durable credential store the manager persists into.
type Repository interface {
	Load(ctx context.Context, sessionID string) (Credential, error)
	Save(ctx context.Context, sessionID string, cred Credential) error
}

// RefreshRecorder records token refresh attempts for observability.
type RefreshRecorder interface {
	RecordTokenRefresh(ctx context.Context, result string)
}

// Manager produces guaranteed-valid credentials for sessions, refreshing and
// persisting them when they expire. It performs no retries: a failed refresh
// is fatal for the current request and surfaces as ErrReauthRequired.
type Manager struct {
	store     *Store
	repo      Repository
	refresher Refresher
	logger    *slog.Logger
	metrics   RefreshRecorder
	now       func() time.Time
}

// NewManager creates a credential lifecycle manager.
func NewManager(store *Store, repo Repository, refresher Refresher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		repo:      repo,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetMetrics attaches a refresh recorder. Safe to leave unset.
func (m *Manager) SetMetrics(rec RefreshRecorder) {
	m.metrics = rec
}

// GetValid returns a credential guaranteed valid at the time of the call.
//
// It returns ErrUnauthenticated when the session has no access token at all
// (no network calls are made in that case), and ErrReauthRequired when the
// credential is expired and either no refresh token exists or the refresh
// exchange fails. A successful refresh persists the rotated credential
// exactly once before returning.
func (m *Manager) GetValid(ctx context.Context, sessionID string) (Credential, error) {
	cred, ok := m.store.Get(sessionID)
	if !ok {
		loaded, err := m.repo.Load(ctx, sessionID)
		if err != nil {
			if err == ErrNotFound || !loaded.HasAccessToken() {
				return Credential{}, ErrUnauthenticated
			}
			return Credential{}, fmt.Errorf("load credential: %w", err)
		}
		cred = loaded
		m.store.Put(sessionID, cred)
	}

	if !cred.HasAccessToken() {
		return Credential{}, ErrUnauthenticated
	}

	now := m.now()
	if cred.Valid(now) {
		return cred, nil
	}

	if !cred.Renewable() {
		m.logger.Warn("credential expired with no refresh token",
			logging.SessionHash(sessionID))
		return Credential{}, ErrReauthRequired
	}

	refreshed, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		m.recordRefresh(ctx, logging.StatusError)
		m.logger.Warn("token refresh exchange failed",
			logging.SessionHash(sessionID), logging.Err(err))
		return Credential{}, fmt.Errorf("%w: refresh exchange failed: %v", ErrReauthRequired, err)
	}

	// Providers rotate refresh tokens only sometimes; keep the prior one
	// when no replacement was issued.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	m.store.Put(sessionID, refreshed)
	if err := m.repo.Save(ctx, sessionID, refreshed); err != nil {
		m.recordRefresh(ctx, logging.StatusError)
		return Credential{}, fmt.Errorf("persist refreshed credential: %w", err)
	}

	m.recordRefresh(ctx, logging.StatusSuccess)
	m.logger.Info("refreshed access token",
		logging.SessionHash(sessionID),
		slog.Time("expiry", refreshed.Expiry()))
	return refreshed, nil
}

// Establish stores a freshly exchanged credential for a session, both in the
// cache and durably. Called once per completed authorization flow.
func (m *Manager) Establish(ctx context.Context, sessionID string, cred Credential) error {
	if !cred.HasAccessToken() {
		return ErrUnauthenticated
	}
	m.store.Put(sessionID, cred)
	if err := m.repo.Save(ctx, sessionID, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

func (m *Manager) recordRefresh(ctx context.Context, result string) {
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh(ctx, result)
	}
}
