// Package auth manages the session token pair: storing, reading, clearing
// and refreshing it against the backend.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campusconnect/campus-cli/internal/observability"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
	"github.com/campusconnect/campus-cli/internal/version"
)

// Endpoint paths relative to the base URL.
const (
	LoginPath   = "/api/login/"
	RefreshPath = "/api/refresh/"
)

// maxResponseBytes bounds auth response bodies.
const maxResponseBytes = 1 << 20

var errEmptyToken = errors.New("empty token")

// Session is the stored token pair. An empty string means absent.
type Session struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no session is stored.
func (s Session) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Manager owns the session. Reads and writes of the pair are serialized so
// callers never observe one token without the other.
type Manager struct {
	store      store.KV
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
	hooks      observability.Hooks

	mu      sync.Mutex
	group   singleflight.Group
	onClear []func(context.Context) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for login and refresh calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithTimeout sets the per-call timeout for login and refresh calls.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithHooks sets the observability hooks.
func WithHooks(h observability.Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// NewManager creates a session manager over kv for the backend at baseURL.
func NewManager(kv store.KV, baseURL string, opts ...Option) *Manager {
	m := &Manager{
		store:      kv,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		timeout:    10 * time.Second,
		userAgent:  version.UserAgent(),
		logger:     slog.New(slog.DiscardHandler),
		hooks:      observability.NopHooks{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnClear registers fn to run after every ClearSession, e.g. to forget the
// tracked account id.
func (m *Manager) OnClear(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClear = append(m.onClear, fn)
}

// StoreSession writes both tokens. If the second write fails both keys are
// removed so the pair is never half present.
func (m *Manager) StoreSession(ctx context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeLocked(ctx, access, refresh)
}

func (m *Manager) storeLocked(ctx context.Context, access, refresh string) error {
	if access == "" || refresh == "" {
		return output.ErrStorage("store session", errEmptyToken)
	}
	if err := m.store.Set(ctx, store.KeyAccessToken, access); err != nil {
		return output.ErrStorage("store session", err)
	}
	if err := m.store.Set(ctx, store.KeyRefreshToken, refresh); err != nil {
		if rbErr := m.store.RemoveMany(ctx, store.KeyAccessToken, store.KeyRefreshToken); rbErr != nil {
			m.logger.Warn("session rollback failed", "error", rbErr)
		}
		return output.ErrStorage("store session", err)
	}
	return nil
}

// ReadSession returns the stored pair. It never fails: read errors degrade
// to an empty session, and a half-present pair reads as empty.
func (m *Manager) ReadSession(ctx context.Context) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(ctx)
}

func (m *Manager) readLocked(ctx context.Context) Session {
	access := m.get(ctx, store.KeyAccessToken)
	refresh := m.get(ctx, store.KeyRefreshToken)
	if access == "" || refresh == "" {
		if access != "" || refresh != "" {
			m.logger.Debug("ignoring partial session")
		}
		return Session{}
	}
	return Session{AccessToken: access, RefreshToken: refresh}
}

func (m *Manager) get(ctx context.Context, key string) string {
	v, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Debug("session read failed", "key", key, "error", err)
		}
		return ""
	}
	return v
}

// ClearSession removes both tokens and the identifiers cached for them,
// then runs the OnClear callbacks.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	err := m.store.RemoveMany(ctx,
		store.KeyAccessToken, store.KeyRefreshToken,
		store.KeyCurrentUser, store.KeyUserProfile)
	callbacks := append([]func(context.Context) error(nil), m.onClear...)
	m.mu.Unlock()

	errs := []error{err}
	for _, fn := range callbacks {
		errs = append(errs, fn(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return output.ErrStorage("clear session", err)
	}
	return nil
}

// AccessToken returns the stored access token, or "" when signed out.
func (m *Manager) AccessToken(ctx context.Context) string {
	return m.ReadSession(ctx).AccessToken
}

// IsAuthenticated reports whether a session is stored. Token expiry is not
// checked; an expired token is discovered by the server's 401.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.AccessToken(ctx) != ""
}

// Refresh mints a new access token from the stored refresh token and
// returns it. Concurrent callers share one in-flight refresh; each still
// stops waiting when its own ctx ends.
//
// Any failure clears the session and returns a session_expired error, except
// a missing refresh token, which returns no_refresh_token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	start := time.Now()
	leader := false
	ch := m.group.DoChan("refresh", func() (any, error) {
		leader = true
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		info := observability.RefreshInfo{
			Shared:   res.Shared && !leader,
			Duration: time.Since(start),
			Error:    res.Err,
		}
		m.hooks.OnRefresh(ctx, info)
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	sess := m.ReadSession(ctx)
	if sess.RefreshToken == "" {
		return "", output.ErrNoRefreshToken()
	}

	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	err := m.postJSON(ctx, RefreshPath, map[string]string{"refresh": sess.RefreshToken}, &resp)
	if err == nil && resp.Access == "" {
		err = errors.New("refresh response did not include an access token")
	}
	if err != nil {
		m.logger.Debug("token refresh failed", "error", err)
		if clearErr := m.ClearSession(ctx); clearErr != nil {
			m.logger.Warn("clearing session after failed refresh", "error", clearErr)
		}
		return "", output.ErrSessionExpired(err)
	}

	// Rotate or keep: the server decides whether a new refresh token is issued.
	refresh := resp.Refresh
	if refresh == "" {
		refresh = sess.RefreshToken
	}

	m.mu.Lock()
	// A logout or new login during the call wins over this result.
	current := m.readLocked(ctx)
	if current.RefreshToken != sess.RefreshToken {
		m.mu.Unlock()
		if current.AccessToken != "" {
			return current.AccessToken, nil
		}
		return "", output.ErrSessionExpired(errors.New("session ended during refresh"))
	}
	err = m.storeLocked(ctx, resp.Access, refresh)
	m.mu.Unlock()

	if err != nil {
		// The old pair may still be stored; a failed refresh leaves no session.
		if clearErr := m.ClearSession(ctx); clearErr != nil {
			m.logger.Warn("clearing session after failed token write", "error", clearErr)
		}
		return "", output.ErrSessionExpired(err)
	}
	m.logger.Debug("token refreshed", "rotated", resp.Refresh != "")
	return resp.Access, nil
}

// postJSON sends an unauthenticated JSON POST and decodes a 2xx body into out.
// These calls bypass the request pipeline: a 401 here is final.
func (m *Manager) postJSON(ctx context.Context, path string, in, out any) error {
	status, body, err := m.send(ctx, path, in)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return output.ErrFromStatus(status, body, "")
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return output.ErrAPI(status, fmt.Sprintf("Invalid response from %s: %v", path, err))
	}
	return nil
}

// send performs the POST and returns the raw status and body. Transport
// failures are already classified.
func (m *Manager) send(ctx context.Context, path string, in any) (int, []byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, nil, output.ErrTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, output.ErrTransport(err)
	}
	return resp.StatusCode, body, nil
}
