package api

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const csrfTokenTTL = 4 * time.Hour

// CSRFToken represents a hashed token with expiration metadata.
type CSRFToken struct {
	Hash    string
	Expires time.Time
}

// CSRFTokenStore keeps one single-use token per user session.
type CSRFTokenStore struct {
	tokens      map[string]*CSRFToken
	mu          sync.Mutex
	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func csrfSessionKey(sessionID string) string {
	return sessionHash(sessionID)
}

func csrfTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewCSRFTokenStore creates a store and starts its cleanup routine.
func NewCSRFTokenStore() *CSRFTokenStore {
	c := &CSRFTokenStore{
		tokens:      make(map[string]*CSRFToken),
		ttl:         csrfTokenTTL,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go c.backgroundWorker(5 * time.Minute)
	return c
}

func (c *CSRFTokenStore) backgroundWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup routine
func (c *CSRFTokenStore) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// GenerateCSRFToken creates a new CSRF token for a session, replacing any
// previous one.
func (c *CSRFTokenStore) GenerateCSRFToken(sessionID string) string {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		log.Error().Err(err).Msg("Failed to generate CSRF token")
		return ""
	}

	token := base64.URLEncoding.EncodeToString(tokenBytes)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[csrfSessionKey(sessionID)] = &CSRFToken{
		Hash:    csrfTokenHash(token),
		Expires: c.now().Add(c.ttl),
	}
	return token
}

// ConsumeCSRFToken reports whether token is the live token for sessionID.
// A matching token is removed so it cannot be replayed.
func (c *CSRFTokenStore) ConsumeCSRFToken(sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := csrfSessionKey(sessionID)
	csrfToken, exists := c.tokens[key]
	if !exists {
		return false
	}

	if c.now().After(csrfToken.Expires) {
		delete(c.tokens, key)
		return false
	}

	// A checked token is spent whether or not it matched
	delete(c.tokens, key)
	return subtle.ConstantTimeCompare([]byte(csrfToken.Hash), []byte(csrfTokenHash(token))) == 1
}

// DeleteCSRFToken removes a CSRF token
func (c *CSRFTokenStore) DeleteCSRFToken(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, csrfSessionKey(sessionID))
}

// cleanup removes expired CSRF tokens
func (c *CSRFTokenStore) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for sessionKey, token := range c.tokens {
		if now.After(token.Expires) {
			delete(c.tokens, sessionKey)
			log.Debug().Str("sessionKey", safePrefixForLog(sessionKey, 8)+"...").Msg("Cleaned up expired CSRF token")
		}
	}
}
