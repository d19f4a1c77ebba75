// Package session holds the signed-in user, the profile used as
// submission metadata and the message waiting for login.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/providers/auth/supabase"
)

var ErrNotAuthenticated = errors.New("session: not authenticated")

// Authenticator is the remote auth service.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (supabase.Session, error)
	Register(ctx context.Context, reg supabase.Registration) (supabase.User, supabase.Session, error)
	Logout(ctx context.Context, accessToken string) error
	Profile(ctx context.Context, accessToken, userID string) (supabase.Profile, error)
}

type Config struct {
	Store *Store
	// Auth may be nil when no auth backend is configured; only the
	// anonymous session is usable then.
	Auth   Authenticator
	Now    func() time.Time
	Logger *zap.Logger
}

// Context is the process-wide session. It is safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	cfg    Config
	state  State
	logger *zap.Logger
}

// Open loads the stored session. An expired session is discarded.
func Open(cfg Config) (*Context, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &Context{cfg: cfg, logger: cfg.Logger.Named("session")}
	state, err := cfg.Store.Load()
	if err != nil {
		c.logger.Warn("discarding unreadable session file", zap.Error(err))
		if clearErr := cfg.Store.Clear(); clearErr != nil {
			return nil, clearErr
		}
		state = State{}
	}
	if state.Session != nil && state.Session.Expired(cfg.Now()) {
		c.logger.Info("stored session expired", zap.String("user_id", state.Session.User.ID))
		state.Session = nil
		state.Profile = nil
		if err := cfg.Store.Save(state); err != nil {
			return nil, err
		}
	}
	c.state = state
	return c, nil
}

// IsAuthenticated reports whether a user session is present.
func (c *Context) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Session != nil && c.state.Session.AccessToken != ""
}

// Profile returns the cached profile.
func (c *Context) Profile() (supabase.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Profile == nil {
		return supabase.Profile{}, false
	}
	return *c.state.Profile, true
}

// UserID returns the signed-in user id, or the anonymous id.
func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Session == nil || c.state.Session.User.ID == "" {
		return voice.AnonymousID
	}
	return c.state.Session.User.ID
}

// Metadata is the user block attached to every submission.
func (c *Context) Metadata() voice.UserMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var meta voice.UserMetadata
	if p := c.state.Profile; p != nil {
		meta = voice.UserMetadata{
			ID:        p.ID,
			Name:      p.Name,
			Phone:     p.Phone,
			Gender:    p.Gender,
			BirthDate: p.BirthDate,
			State:     p.State,
			City:      p.City,
		}
	}
	if meta.ID == "" && c.state.Session != nil {
		meta.ID = c.state.Session.User.ID
	}
	return meta.WithDefaults()
}

// Login replaces any previous session with a fresh one.
func (c *Context) Login(ctx context.Context, email, password string) error {
	auth, err := c.auth()
	if err != nil {
		return err
	}
	c.dropLocal(ctx, auth)

	sess, err := auth.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return err
	}
	return c.adopt(ctx, auth, sess)
}

// Register validates the form and signs the user up. When the account
// is auto-confirmed the new session is adopted.
func (c *Context) Register(ctx context.Context, form RegistrationForm) error {
	auth, err := c.auth()
	if err != nil {
		return err
	}
	reg, err := form.Normalize()
	if err != nil {
		return err
	}
	c.dropLocal(ctx, auth)

	_, sess, err := auth.Register(ctx, reg)
	if err != nil {
		return err
	}
	return c.adopt(ctx, auth, sess)
}

// Logout clears the local session first, then revokes it remotely.
// Remote failures are logged and do not keep the user signed in.
func (c *Context) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := ""
	if c.state.Session != nil {
		token = c.state.Session.AccessToken
	}
	c.mu.Unlock()

	if err := c.Close(); err != nil {
		return err
	}
	if c.cfg.Auth != nil && token != "" {
		if err := c.cfg.Auth.Logout(ctx, token); err != nil {
			c.logger.Warn("remote logout failed", zap.Error(err))
		}
	}
	return nil
}

// Close forgets the session and removes the token file.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{}
	return c.cfg.Store.Clear()
}

// RefreshProfile reloads the profile from the backend.
func (c *Context) RefreshProfile(ctx context.Context) (supabase.Profile, error) {
	auth, err := c.auth()
	if err != nil {
		return supabase.Profile{}, err
	}
	c.mu.RLock()
	sess := c.state.Session
	c.mu.RUnlock()
	if sess == nil {
		return supabase.Profile{}, ErrNotAuthenticated
	}
	profile, err := auth.Profile(ctx, sess.AccessToken, sess.User.ID)
	if err != nil {
		return supabase.Profile{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Profile = &profile
	return profile, c.cfg.Store.Save(c.state)
}

// SetPending keeps msg until the user has signed in.
func (c *Context) SetPending(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PendingMessage = strings.TrimSpace(msg)
	return c.cfg.Store.Save(c.state)
}

// TakePending returns and clears the pending message.
func (c *Context) TakePending() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.state.PendingMessage
	if msg == "" {
		return "", nil
	}
	c.state.PendingMessage = ""
	return msg, c.cfg.Store.Save(c.state)
}

func (c *Context) auth() (Authenticator, error) {
	if c.cfg.Auth == nil {
		return nil, fmt.Errorf("auth backend is not configured")
	}
	return c.cfg.Auth, nil
}

// dropLocal discards the current session before a new sign-in and keeps
// the pending message.
func (c *Context) dropLocal(ctx context.Context, auth Authenticator) {
	c.mu.Lock()
	prev := c.state.Session
	c.state.Session = nil
	c.state.Profile = nil
	if err := c.cfg.Store.Save(c.state); err != nil {
		c.logger.Warn("clearing stored session failed", zap.Error(err))
	}
	c.mu.Unlock()
	if prev == nil {
		return
	}
	if err := auth.Logout(ctx, prev.AccessToken); err != nil {
		c.logger.Debug("previous session logout failed", zap.Error(err))
	}
}

func (c *Context) adopt(ctx context.Context, auth Authenticator, sess supabase.Session) error {
	var profile *supabase.Profile
	if p, err := auth.Profile(ctx, sess.AccessToken, sess.User.ID); err != nil {
		c.logger.Warn("profile unavailable after sign-in", zap.String("user_id", sess.User.ID), zap.Error(err))
	} else {
		profile = &p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Session = &sess
	c.state.Profile = profile
	return c.cfg.Store.Save(c.state)
}
