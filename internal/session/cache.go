package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// DefaultTTL matches the one-hour web session the mobile flow expects.
const DefaultTTL = time.Hour

// Session is one authenticated web session keyed by an opaque token.
type Session struct {
	ID        string    `json:"session_id"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache is an in-process TTL store for sessions. Expired entries are
// unreadable immediately; a janitor reclaims them in the background.
type Cache struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	onExpire func(*Session)
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (c *Cache) SetExpireHook(hook func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = hook
}

// Create mints a session for userEmail and returns it with a fresh token.
func (c *Cache) Create(userEmail string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		UserEmail: userEmail,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID] = s
	return clone(s)
}

func (c *Cache) Get(token string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[token]
	if !ok || time.Now().UTC().After(s.ExpiresAt) {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch extends the session by the cache TTL.
func (c *Cache) Touch(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[token]
	if !ok || time.Now().UTC().After(s.ExpiresAt) {
		return ErrNotFound
	}
	s.ExpiresAt = time.Now().UTC().Add(c.ttl)
	return nil
}

func (c *Cache) Delete(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[token]; !ok {
		return ErrNotFound
	}
	delete(c.sessions, token)
	return nil
}

func (c *Cache) Exists(token string) bool {
	_, err := c.Get(token)
	return err == nil
}

// TTL returns the remaining lifetime, or a negative duration for unknown or
// expired tokens.
func (c *Cache) TTL(token string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[token]
	if !ok {
		return -1
	}
	remaining := time.Until(s.ExpiresAt)
	if remaining < 0 {
		return -1
	}
	return remaining
}

func (c *Cache) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now().UTC()
	count := 0
	for _, s := range c.sessions {
		if now.Before(s.ExpiresAt) {
			count++
		}
	}
	return count
}

// StartJanitor reclaims expired sessions until ctx is canceled.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.reap()
			}
		}
	}()
}

func (c *Cache) reap() {
	now := time.Now().UTC()
	var expired []*Session

	c.mu.Lock()
	for token, s := range c.sessions {
		if now.Before(s.ExpiresAt) {
			continue
		}
		delete(c.sessions, token)
		expired = append(expired, clone(s))
	}
	hook := c.onExpire
	c.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
