// Package users reads the signed-in user's profile, cache first, and keeps
// the user cache current.
package users

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"net/http"
	"net/url"
	"time"

	"github.com/campusconnect/campus-cli/internal/api"
	"github.com/campusconnect/campus-cli/internal/models"
	"github.com/campusconnect/campus-cli/internal/observability"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/usercache"
)

// Endpoint paths relative to the base URL.
const (
	CurrentPath = "/api/users/current/"
	ProfilePath = "/api/profile/"
)

// Defaults for the transient-failure retry.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = time.Second
)

// Requester sends a request through the authenticated pipeline.
type Requester interface {
	Do(ctx context.Context, r *api.Request) (*api.Response, error)
}

// SessionClearer ends the session when the backend rejects it.
type SessionClearer interface {
	ClearSession(ctx context.Context) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher loads user profiles.
type Fetcher struct {
	client     Requester
	cache      *usercache.Cache
	session    SessionClearer
	maxRetries int
	retryDelay time.Duration
	sleep      SleepFunc
	logger     *slog.Logger
	hooks      observability.Hooks
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) { f.maxRetries = n }
}

// WithRetryDelay sets the base delay. Attempt n waits delay × (n+1).
func WithRetryDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.retryDelay = d }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithHooks sets the observability hooks.
func WithHooks(h observability.Hooks) Option {
	return func(f *Fetcher) { f.hooks = h }
}

// NewFetcher creates a fetcher that calls the backend through client and
// keeps cache current.
func NewFetcher(client Requester, cache *usercache.Cache, session SessionClearer, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:     client,
		cache:      cache,
		session:    session,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepContext,
		logger:     slog.New(slog.DiscardHandler),
		hooks:      observability.NopHooks{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Current returns the signed-in user. Unless force is set a cached profile
// is returned without a network call, and a failed fetch falls back to the
// cache when one exists.
func (f *Fetcher) Current(ctx context.Context, force bool) (models.User, error) {
	if !force {
		if u, ok := f.cache.Read(ctx); ok {
			f.hooks.OnCache(ctx, observability.CacheHit)
			return u, nil
		}
		f.hooks.OnCache(ctx, observability.CacheMiss)
	}

	u, err := f.fetchCurrent(ctx)
	if err == nil {
		return u, nil
	}

	if !force {
		if cached, ok := f.cache.Read(ctx); ok {
			f.logger.Debug("serving cached user after failed fetch", "error", err)
			f.hooks.OnCache(ctx, observability.CacheFallback)
			return cached, nil
		}
	}
	return nil, err
}

// Cached returns the cached user without touching the network.
func (f *Fetcher) Cached(ctx context.Context) (models.User, bool) {
	return f.cache.Read(ctx)
}

// Refresh fetches the user from the backend, bypassing the cache.
func (f *Fetcher) Refresh(ctx context.Context) (models.User, error) {
	return f.Current(ctx, true)
}

func (f *Fetcher) fetchCurrent(ctx context.Context) (models.User, error) {
	for attempt := 0; ; attempt++ {
		u, err := f.fetchOnce(ctx)
		if err == nil {
			return u, f.remember(ctx, u)
		}

		if !transient(err) || attempt >= f.maxRetries {
			return nil, f.fail(ctx, err)
		}

		delay := f.retryDelay * time.Duration(attempt+1)
		f.logger.Debug("retrying current user", "attempt", attempt+1, "max", f.maxRetries, "delay", delay, "error", err)
		f.hooks.OnRetry(ctx, observability.RetryInfo{
			Operation: "users.current",
			Attempt:   attempt + 1,
			Delay:     delay,
			Error:     err,
		})
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context) (models.User, error) {
	resp, err := f.client.Do(ctx, &api.Request{Method: http.MethodGet, Path: CurrentPath})
	if err != nil {
		return nil, err
	}
	u, err := ExtractUser(resp.Data)
	if err != nil {
		return nil, err
	}
	if !u.Valid() {
		return nil, output.ErrInvalidProfile("Invalid user data received")
	}
	return u, nil
}

// fail maps a final fetch error. A rejected session is cleared before the
// error is returned.
func (f *Fetcher) fail(ctx context.Context, err error) error {
	e := output.AsError(err)
	switch {
	case e.Code == output.CodeAuth && e.HTTPStatus == http.StatusUnauthorized:
		if clearErr := f.session.ClearSession(ctx); clearErr != nil {
			f.logger.Warn("clearing session after 401", "error", clearErr)
		}
	case e.Code == output.CodeNotFound:
		return output.ErrNotFound("User profile")
	}
	return err
}

// remember tracks the user's account and writes the profile through to the
// cache. A profile from another account drops the old cache first.
func (f *Fetcher) remember(ctx context.Context, u models.User) error {
	if _, err := f.cache.CheckAndClearIfAccountChanged(ctx, u.ID()); err != nil {
		return err
	}
	return f.cache.Write(ctx, u)
}

// ByID returns another user's public profile. The cache is not involved.
func (f *Fetcher) ByID(ctx context.Context, id string) (models.User, error) {
	if id == "" {
		return nil, output.ErrUsage("User ID is required")
	}
	resp, err := f.client.Do(ctx, &api.Request{
		Method: http.MethodGet,
		Path:   "/api/users/" + url.PathEscape(id) + "/",
	})
	if err != nil {
		if output.IsCode(err, output.CodeNotFound) {
			return nil, output.ErrNotFound("User")
		}
		return nil, err
	}
	return ExtractUser(resp.Data)
}

// UpdateProfile sends changed profile fields and refreshes the cache with
// the result. When the response does not carry the full profile the current
// user is fetched again.
func (f *Fetcher) UpdateProfile(ctx context.Context, fields map[string]any) (models.User, error) {
	if len(fields) == 0 {
		return nil, output.ErrUsage("No profile fields to update")
	}
	resp, err := f.client.Do(ctx, &api.Request{Method: http.MethodPut, Path: ProfilePath, Body: fields})
	if err != nil {
		return nil, err
	}
	return f.afterProfileChange(ctx, resp)
}

// UploadProfilePicture sends an image of the given MIME type as a multipart
// form and returns the refreshed profile.
func (f *Fetcher) UploadProfilePicture(ctx context.Context, filename, contentType string, image io.Reader) (models.User, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="profile_picture"; filename=%q`, filename))
	partHeader.Set("Content-Type", contentType)
	part, err := w.CreatePart(partHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", w.FormDataContentType())
	if _, err := f.client.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   ProfilePath,
		Body:   buf.Bytes(),
		Header: header,
	}); err != nil {
		return nil, err
	}
	return f.Refresh(ctx)
}

func (f *Fetcher) afterProfileChange(ctx context.Context, resp *api.Response) (models.User, error) {
	u, err := ExtractUser(resp.Data)
	if err != nil || !u.Valid() {
		f.logger.Debug("profile response is not a full profile, refetching")
		return f.Refresh(ctx)
	}
	if err := f.remember(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ExtractUser unwraps a profile from {"success": true, "user": {...}},
// {"user": {...}} or a bare profile object.
func ExtractUser(data json.RawMessage) (models.User, error) {
	body, err := models.ParseUser(data)
	if err != nil {
		return nil, output.ErrInvalidProfile(fmt.Sprintf("Invalid user response: %v", err))
	}
	if body == nil {
		return nil, output.ErrInvalidProfile("Empty user response")
	}
	if inner, ok := body["user"].(map[string]any); ok && inner != nil {
		return models.User(inner), nil
	}
	return body, nil
}

// transient reports whether err may succeed on a later attempt: no response
// at all, or a server-side failure.
func transient(err error) bool {
	e := output.AsError(err)
	switch e.Code {
	case output.CodeNetwork, output.CodeTimeout, output.CodeServer:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
