// Package usercache persists the last fetched user profile and drops it
// when a different account becomes active on this device.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/campusconnect/campus-cli/internal/models"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
)

// Cache is the user cache. The tracked account id lives in the same store
// as the profile, under store.KeyLastUserID, so it survives restarts.
type Cache struct {
	store  store.KV
	logger *slog.Logger

	// mu makes check-and-set of the tracked id atomic within a process.
	mu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a user cache over kv.
func New(kv store.KV, opts ...Option) *Cache {
	c := &Cache{
		store:  kv,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write stores u. Profiles without an id or username are rejected with an
// invalid_profile error and nothing is written.
func (c *Cache) Write(ctx context.Context, u models.User) error {
	if !u.Valid() {
		return output.ErrInvalidProfile("Invalid user data received")
	}
	data, err := json.Marshal(u)
	if err != nil {
		return output.ErrInvalidProfile("User data is not serializable")
	}
	if err := c.store.Set(ctx, store.KeyCurrentUser, string(data)); err != nil {
		return output.ErrStorage("cache user", err)
	}
	return nil
}

// Read returns the cached profile. Missing, unreadable and corrupt entries
// all read as a miss.
func (c *Cache) Read(ctx context.Context) (models.User, bool) {
	raw, err := c.store.Get(ctx, store.KeyCurrentUser)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Debug("user cache read failed", "error", err)
		}
		return nil, false
	}
	u, err := models.ParseUser([]byte(raw))
	if err != nil || u == nil {
		c.logger.Debug("ignoring corrupt user cache entry", "error", err)
		return nil, false
	}
	return u, true
}

// Clear removes the cached profile. Session tokens are untouched.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.RemoveMany(ctx, store.KeyCurrentUser, store.KeyUserProfile); err != nil {
		return output.ErrStorage("clear user cache", err)
	}
	return nil
}

// CheckAndClearIfAccountChanged records id as the active account. When a
// different account was tracked before, the cached profile is cleared first
// and cleared is true. An empty id is ignored.
func (c *Cache) CheckAndClearIfAccountChanged(ctx context.Context, id string) (cleared bool, err error) {
	if id == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.tracked(ctx)
	if last != "" && last != id {
		c.logger.Debug("account changed, clearing user cache", "previous", last, "current", id)
		if err := c.Clear(ctx); err != nil {
			return false, err
		}
		cleared = true
	}
	if last != id {
		if err := c.store.Set(ctx, store.KeyLastUserID, id); err != nil {
			return cleared, output.ErrStorage("track account", err)
		}
	}
	return cleared, nil
}

// TrackedAccountID returns the last account id seen, or "" if none.
func (c *Cache) TrackedAccountID(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked(ctx)
}

// ResetTracking forgets the tracked account id. The session manager calls
// it on logout so the next login starts untracked.
func (c *Cache) ResetTracking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Remove(ctx, store.KeyLastUserID); err != nil {
		return output.ErrStorage("reset account tracking", err)
	}
	return nil
}

func (c *Cache) tracked(ctx context.Context) string {
	id, err := c.store.Get(ctx, store.KeyLastUserID)
	if err != nil {
		return ""
	}
	return id
}
