// Package gateway is the caller-facing surface of the client: login and
// logout, the current user, and the services that share one session.
//
// A Gateway is an ordinary value. Each one owns its session manager, user
// cache and request pipeline, so tests and commands construct their own.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/campusconnect/campus-cli/internal/api"
	"github.com/campusconnect/campus-cli/internal/auth"
	"github.com/campusconnect/campus-cli/internal/connections"
	"github.com/campusconnect/campus-cli/internal/hostutil"
	"github.com/campusconnect/campus-cli/internal/models"
	"github.com/campusconnect/campus-cli/internal/observability"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
	"github.com/campusconnect/campus-cli/internal/usercache"
	"github.com/campusconnect/campus-cli/internal/users"
)

// tokenPreviewLen is how much of the access token Status reveals.
const tokenPreviewLen = 20

// Gateway ties the session, the request pipeline and the user cache
// together.
type Gateway struct {
	baseURL string
	logger  *slog.Logger

	session     *auth.Manager
	client      *api.Client
	cache       *usercache.Cache
	users       *users.Fetcher
	connections *connections.Service
}

type settings struct {
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	hooks      observability.Hooks
	sleep      users.SleepFunc
}

// Option configures a Gateway.
type Option func(*settings)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithRetry sets the current-user retry bound and base delay.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *settings) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client shared by all backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHooks sets the observability hooks.
func WithHooks(h observability.Hooks) Option {
	return func(s *settings) { s.hooks = h }
}

// WithSleep replaces the backoff wait of the current-user fetch.
func WithSleep(fn users.SleepFunc) Option {
	return func(s *settings) { s.sleep = fn }
}

// New creates a gateway for the backend at baseURL, keeping its session
// and user cache in kv.
func New(kv store.KV, baseURL string, opts ...Option) *Gateway {
	s := settings{
		timeout:    10 * time.Second,
		maxRetries: users.DefaultMaxRetries,
		retryDelay: users.DefaultRetryDelay,
		logger:     slog.New(slog.DiscardHandler),
		hooks:      observability.NopHooks{},
	}
	for _, opt := range opts {
		opt(&s)
	}

	authOpts := []auth.Option{auth.WithTimeout(s.timeout), auth.WithLogger(s.logger), auth.WithHooks(s.hooks)}
	apiOpts := []api.Option{api.WithTimeout(s.timeout), api.WithLogger(s.logger), api.WithHooks(s.hooks)}
	if s.httpClient != nil {
		authOpts = append(authOpts, auth.WithHTTPClient(s.httpClient))
		apiOpts = append(apiOpts, api.WithHTTPClient(s.httpClient))
	}

	session := auth.NewManager(kv, baseURL, authOpts...)
	cache := usercache.New(kv, usercache.WithLogger(s.logger))
	session.OnClear(cache.ResetTracking)

	client := api.NewClient(baseURL, session, apiOpts...)

	userOpts := []users.Option{
		users.WithMaxRetries(s.maxRetries),
		users.WithRetryDelay(s.retryDelay),
		users.WithLogger(s.logger),
		users.WithHooks(s.hooks),
	}
	if s.sleep != nil {
		userOpts = append(userOpts, users.WithSleep(s.sleep))
	}

	return &Gateway{
		baseURL:     client.BaseURL(),
		logger:      s.logger,
		session:     session,
		client:      client,
		cache:       cache,
		users:       users.NewFetcher(client, cache, session, userOpts...),
		connections: connections.NewService(client),
	}
}

// BaseURL returns the backend base URL.
func (g *Gateway) BaseURL() string { return g.baseURL }

// Session returns the session manager.
func (g *Gateway) Session() *auth.Manager { return g.session }

// Client returns the authenticated request pipeline.
func (g *Gateway) Client() *api.Client { return g.client }

// Cache returns the user cache.
func (g *Gateway) Cache() *usercache.Cache { return g.cache }

// Users returns the user fetcher.
func (g *Gateway) Users() *users.Fetcher { return g.users }

// Connections returns the connection service.
func (g *Gateway) Connections() *connections.Service { return g.connections }

// Login exchanges credentials for a session and records it. When the login
// response has no profile, the current user is fetched; failing that only
// logs, since the session itself is already stored.
func (g *Gateway) Login(ctx context.Context, creds auth.Credentials) (*auth.LoginResult, error) {
	res, err := g.session.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	accountID := res.User.ID()
	if accountID == "" {
		if claims, err := auth.ParseClaims(res.Access); err == nil {
			accountID = claims.UserID
		}
	}

	if err := g.recordLogin(ctx, accountID, res.Access, res.Refresh, res.User); err != nil {
		return nil, err
	}

	if !res.User.Valid() {
		u, err := g.users.Refresh(ctx)
		if err != nil {
			g.logger.Debug("fetching user after login failed", "error", err)
		} else {
			res.User = u
		}
	}
	return res, nil
}

// HandleLoginSuccess records a session obtained elsewhere, with the user's
// profile when known.
func (g *Gateway) HandleLoginSuccess(ctx context.Context, access, refresh string, user models.User) error {
	return g.recordLogin(ctx, user.ID(), access, refresh, user)
}

// recordLogin switches the tracked account before the new tokens land, so a
// previous account's cached profile never outlives the switch.
func (g *Gateway) recordLogin(ctx context.Context, accountID, access, refresh string, user models.User) error {
	if accountID == "" {
		// Unknown account: the cached profile may belong to someone else.
		if err := g.cache.Clear(ctx); err != nil {
			return err
		}
	} else if _, err := g.cache.CheckAndClearIfAccountChanged(ctx, accountID); err != nil {
		return err
	}
	if err := g.session.StoreSession(ctx, access, refresh); err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	if err := g.cache.Write(ctx, user); err != nil {
		g.logger.Debug("not caching login profile", "error", err)
	}
	return nil
}

// HandleLogout ends the session and drops everything cached for it.
func (g *Gateway) HandleLogout(ctx context.Context) error {
	return g.session.ClearSession(ctx)
}

// IsAuthenticated reports whether a session is stored.
func (g *Gateway) IsAuthenticated(ctx context.Context) bool {
	return g.session.IsAuthenticated(ctx)
}

// GetCurrentUser returns the signed-in user, from the cache unless
// forceRefresh is set.
func (g *Gateway) GetCurrentUser(ctx context.Context, forceRefresh bool) (models.User, error) {
	return g.users.Current(ctx, forceRefresh)
}

// GetCachedUser returns the cached user, or nil.
func (g *Gateway) GetCachedUser(ctx context.Context) models.User {
	u, _ := g.users.Cached(ctx)
	return u
}

// RefreshCurrentUser fetches the signed-in user from the backend.
func (g *Gateway) RefreshCurrentUser(ctx context.Context) (models.User, error) {
	return g.users.Refresh(ctx)
}

// CheckAndClearCacheIfAccountChanged records id as the active account,
// clearing the cached user when it differs from the previous one.
func (g *Gateway) CheckAndClearCacheIfAccountChanged(ctx context.Context, id string) (bool, error) {
	return g.cache.CheckAndClearIfAccountChanged(ctx, id)
}

// ClearUserCache drops the cached user without ending the session.
func (g *Gateway) ClearUserCache(ctx context.Context) error {
	return g.cache.Clear(ctx)
}

// Status describes the local session without contacting the backend.
type Status struct {
	HasToken        bool        `json:"has_token"`
	IsAuthenticated bool        `json:"is_authenticated"`
	HasRefreshToken bool        `json:"has_refresh_token"`
	TokenPreview    string      `json:"token_preview,omitempty"`
	AccountID       string      `json:"account_id,omitempty"`
	TrackedAccount  string      `json:"tracked_account,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	Expired         bool        `json:"expired"`
	HasCachedUser   bool        `json:"has_cached_user"`
	CachedUser      models.User `json:"cached_user,omitempty"`
	BaseURL         string      `json:"base_url"`
}

// Status reports what is stored locally: tokens, what the access token
// says about itself, and the cached user.
func (g *Gateway) Status(ctx context.Context) *Status {
	sess := g.session.ReadSession(ctx)
	st := &Status{
		HasToken:        sess.AccessToken != "",
		IsAuthenticated: !sess.Empty(),
		HasRefreshToken: sess.RefreshToken != "",
		TrackedAccount:  g.cache.TrackedAccountID(ctx),
		BaseURL:         g.baseURL,
	}
	if sess.AccessToken != "" {
		st.TokenPreview = preview(sess.AccessToken)
		if claims, err := auth.ParseClaims(sess.AccessToken); err == nil {
			st.AccountID = claims.UserID
			if !claims.ExpiresAt.IsZero() {
				exp := claims.ExpiresAt
				st.ExpiresAt = &exp
				st.Expired = claims.Expired(time.Now())
			}
		} else {
			g.logger.Debug("access token is not a readable JWT", "error", err)
		}
	}
	if u, ok := g.cache.Read(ctx); ok {
		st.HasCachedUser = true
		st.CachedUser = u
	}
	return st
}

func preview(token string) string {
	if len(token) <= tokenPreviewLen {
		return token
	}
	return token[:tokenPreviewLen] + "..."
}

// ProfilePictureURL resolves u's picture against the backend.
func (g *Gateway) ProfilePictureURL(u models.User) string {
	return u.ProfilePicture(g.baseURL)
}

// WebSocketURL returns the chat socket URL for room, authenticated with the
// current access token.
func (g *Gateway) WebSocketURL(ctx context.Context, room string) (string, error) {
	if room == "" {
		return "", output.ErrUsage("Room ID is required")
	}
	token := g.session.AccessToken(ctx)
	if token == "" {
		return "", output.ErrAuth("No authentication token available")
	}
	return hostutil.WebSocketBase(g.baseURL) + "/ws/chat/" + url.PathEscape(room) + "/?token=" + url.QueryEscape(token), nil
}
