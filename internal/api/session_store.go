package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rcourtman/zbxreport/internal/websession"
	"github.com/rs/zerolog/log"
)

// SessionStore holds authenticated user sessions in memory. Sessions own a
// live API client and the frontend credentials, so they are never written to
// disk; the frontend cookie jars are persisted separately by websession.
type SessionStore struct {
	sessions    map[string]*SessionData
	mu          sync.RWMutex
	ttl         time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
	onExpire    func(session *SessionData)
}

func sessionHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionData represents a user session
type SessionData struct {
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UserAgent        string
	IP               string
	OriginalDuration time.Duration // Track original duration for sliding expiration
	Lang             string

	// WebSessionID binds the frontend cookie jar to this session
	WebSessionID string
	Credentials  websession.Credentials
	API          ZabbixAPI
}

// NewSessionStore creates a session store with sliding expiration ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	store := &SessionStore{
		sessions:    make(map[string]*SessionData),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}

	go store.backgroundWorker(time.Minute)
	return store
}

// backgroundWorker removes expired sessions periodically
func (s *SessionStore) backgroundWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup routine
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// OnExpire registers fn to run for every session removed by cleanup.
func (s *SessionStore) OnExpire(fn func(session *SessionData)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateSession stores data under a new random token and returns the token.
func (s *SessionStore) CreateSession(data *SessionData) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	webID, err := newSessionToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	data.CreatedAt = now
	data.ExpiresAt = now.Add(s.ttl)
	data.OriginalDuration = s.ttl
	if data.WebSessionID == "" {
		data.WebSessionID = webID
	}

	s.mu.Lock()
	s.sessions[sessionHash(token)] = data
	s.mu.Unlock()
	return token, nil
}

// ValidateSession checks if a session is valid
func (s *SessionStore) ValidateSession(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionHash(token)]
	if !exists {
		return false
	}

	return time.Now().Before(session.ExpiresAt)
}

// ValidateAndExtendSession returns the session for token and slides its
// expiry forward, or nil when the token is unknown or expired.
func (s *SessionStore) ValidateAndExtendSession(token string) *SessionData {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionHash(token)]
	if !exists {
		return nil
	}

	now := time.Now()
	if now.After(session.ExpiresAt) {
		return nil
	}

	if session.OriginalDuration > 0 {
		session.ExpiresAt = now.Add(session.OriginalDuration)
	}
	return session
}

// DeleteSession removes a session and returns it.
func (s *SessionStore) DeleteSession(token string) *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionHash(token)
	session := s.sessions[key]
	delete(s.sessions, key)
	return session
}

// Drain removes and returns every stored session.
func (s *SessionStore) Drain() []*SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := make([]*SessionData, 0, len(s.sessions))
	for key, session := range s.sessions {
		drained = append(drained, session)
		delete(s.sessions, key)
	}
	return drained
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// cleanup removes expired sessions
func (s *SessionStore) cleanup(now time.Time) {
	s.mu.Lock()
	var expired []*SessionData
	for key, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, key)
			expired = append(expired, session)
			log.Debug().Str("sessionKey", safePrefixForLog(key, 8)+"...").Msg("Cleaned up expired session")
		}
	}
	onExpire := s.onExpire
	s.mu.Unlock()

	if onExpire == nil {
		return
	}
	for _, session := range expired {
		onExpire(session)
	}
}
