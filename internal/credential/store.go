package credential

import (
	"log/slog"
	"sync"
	"time"
)

// storeEntry tracks a cached credential and its last access for TTL cleanup.
type storeEntry struct {
	cred       Credential
	lastAccess time.Time
}

// Store is the in-memory, session-keyed credential cache. Each session owns
// its own credential, so concurrent requests from different users never share
// token state. Entries idle longer than the configured TTL are evicted by a
// background sweep; the durable repository remains the source of truth.
type Store struct {
	mu            sync.RWMutex
	sessions      map[string]*storeEntry
	ttl           time.Duration
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	logger        *slog.Logger
}

// NewStore creates a session credential store with the given idle TTL and
// starts the cleanup goroutine. Call Stop to release it.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		sessions:      make(map[string]*storeEntry),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(10 * time.Minute),
		cleanupDone:   make(chan struct{}),
		logger:        logger,
	}

	go s.cleanupLoop()

	return s
}

// Get returns the cached credential for a session, if present.
func (s *Store) Get(sessionID string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return Credential{}, false
	}
	entry.lastAccess = time.Now()
	return entry.cred, true
}

// Put stores the credential for a session, replacing any previous value.
func (s *Store) Put(sessionID string, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &storeEntry{
		cred:       cred,
		lastAccess: time.Now(),
	}
}

// Remove drops the cached credential for a session.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len returns the number of cached sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// sweep removes entries idle longer than the TTL and returns how many were
// evicted.
func (s *Store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for sessionID, entry := range s.sessions {
		if now.Sub(entry.lastAccess) > s.ttl {
			delete(s.sessions, sessionID)
			evicted++
		}
	}
	return evicted
}

func (s *Store) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			if evicted := s.sweep(time.Now()); evicted > 0 {
				s.logger.Info("evicted idle credential sessions", "count", evicted)
			}
		case <-s.cleanupDone:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (s *Store) Stop() {
	s.cleanupTicker.Stop()
	close(s.cleanupDone)
}
