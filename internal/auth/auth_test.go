package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusconnect/campus-cli/internal/observability"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
)

// flakyKV fails Set for one key.
type flakyKV struct {
	*store.Memory
	failSet string
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if key == f.failSet {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func seed(t *testing.T, kv store.KV, pairs map[string]string) {
	t.Helper()
	for k, v := range pairs {
		require.NoError(t, kv.Set(context.Background(), k, v))
	}
}

func newTestManager(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Manager, *store.Memory) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	kv := store.NewMemory()
	return NewManager(kv, srv.URL, opts...), kv
}

func TestStoreAndReadSession(t *testing.T) {
	m := NewManager(store.NewMemory(), "http://127.0.0.1:8000")
	ctx := context.Background()

	assert.True(t, m.ReadSession(ctx).Empty())
	assert.False(t, m.IsAuthenticated(ctx))

	require.NoError(t, m.StoreSession(ctx, "A1", "R1"))
	assert.Equal(t, Session{AccessToken: "A1", RefreshToken: "R1"}, m.ReadSession(ctx))
	assert.True(t, m.IsAuthenticated(ctx))
	assert.Equal(t, "A1", m.AccessToken(ctx))
}

func TestStoreSessionRejectsEmptyTokens(t *testing.T) {
	m := NewManager(store.NewMemory(), "http://127.0.0.1:8000")
	err := m.StoreSession(context.Background(), "A1", "")
	assert.True(t, output.IsCode(err, output.CodeStorage))
}

func TestStoreSessionRollsBackPartialWrite(t *testing.T) {
	kv := &flakyKV{Memory: store.NewMemory(), failSet: store.KeyRefreshToken}
	m := NewManager(kv, "http://127.0.0.1:8000")
	ctx := context.Background()

	err := m.StoreSession(ctx, "A1", "R1")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeStorage))

	_, getErr := kv.Get(ctx, store.KeyAccessToken)
	assert.ErrorIs(t, getErr, store.ErrNotFound, "first write is rolled back")
	assert.True(t, m.ReadSession(ctx).Empty())
}

func TestReadSessionHidesPartialPair(t *testing.T) {
	kv := store.NewMemory()
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1"})

	m := NewManager(kv, "http://127.0.0.1:8000")
	assert.True(t, m.ReadSession(context.Background()).Empty())
}

func TestClearSession(t *testing.T) {
	kv := store.NewMemory()
	seed(t, kv, map[string]string{
		store.KeyAccessToken:  "A1",
		store.KeyRefreshToken: "R1",
		store.KeyCurrentUser:  `{"id":1,"username":"ann"}`,
		store.KeyUserProfile:  `{}`,
		"remember_me":         "ann",
	})
	m := NewManager(kv, "http://127.0.0.1:8000")

	var cleared int
	m.OnClear(func(context.Context) error {
		cleared++
		return nil
	})

	require.NoError(t, m.ClearSession(context.Background()))
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 1, kv.Len(), "only caller-owned state survives")
}

func TestClearSessionReportsCallbackFailure(t *testing.T) {
	m := NewManager(store.NewMemory(), "http://127.0.0.1:8000")
	m.OnClear(func(context.Context) error { return errors.New("boom") })

	err := m.ClearSession(context.Background())
	assert.True(t, output.IsCode(err, output.CodeStorage))
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	var calls atomic.Int32
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := m.Refresh(context.Background())
	assert.True(t, output.IsCode(err, output.CodeNoRefreshToken))
	assert.Zero(t, calls.Load(), "no network call without a refresh token")
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RefreshPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "R1", body["refresh"])

		_ = json.NewEncoder(w).Encode(map[string]string{"access": "A2"})
	})
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})

	token, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
	assert.Equal(t, Session{AccessToken: "A2", RefreshToken: "R1"}, m.ReadSession(context.Background()))
}

func TestRefreshStoresRotatedRefreshToken(t *testing.T) {
	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "A2", "refresh": "R2"})
	})
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Session{AccessToken: "A2", RefreshToken: "R2"}, m.ReadSession(context.Background()))
}

func TestRefreshFailureClearsSession(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"missing access", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"refresh":"R2"}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, kv := newTestManager(t, tt.handler)
			seed(t, kv, map[string]string{
				store.KeyAccessToken:  "A1",
				store.KeyRefreshToken: "R1",
				store.KeyCurrentUser:  `{"id":1,"username":"ann"}`,
			})

			_, err := m.Refresh(context.Background())
			require.Error(t, err)
			assert.True(t, output.IsCode(err, output.CodeSessionExpired), "got %v", err)
			assert.True(t, m.ReadSession(context.Background()).Empty())
			assert.Zero(t, kv.Len())
		})
	}
}

func TestRefreshStoreFailureClearsSession(t *testing.T) {
	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken} {
		t.Run(key, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"access":"A2"}`))
			}))
			t.Cleanup(srv.Close)

			kv := &flakyKV{Memory: store.NewMemory()}
			seed(t, kv.Memory, map[string]string{
				store.KeyAccessToken:  "A1",
				store.KeyRefreshToken: "R1",
				store.KeyCurrentUser:  `{"id":1,"username":"ann"}`,
			})
			kv.failSet = key
			m := NewManager(kv, srv.URL)
			ctx := context.Background()

			_, err := m.Refresh(ctx)
			require.Error(t, err)
			assert.True(t, output.IsCode(err, output.CodeSessionExpired), "got %v", err)
			assert.True(t, m.ReadSession(ctx).Empty())
			assert.Zero(t, kv.Len())
		})
	}
}

func TestRefreshNetworkFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	kv := store.NewMemory()
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})
	m := NewManager(kv, url)

	_, err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeSessionExpired))

	var cause *output.Error
	require.ErrorAs(t, errors.Unwrap(err), &cause)
	assert.Equal(t, output.CodeNetwork, cause.Code)
	assert.True(t, m.ReadSession(context.Background()).Empty())
}

func TestRefreshTimeout(t *testing.T) {
	release := make(chan struct{})
	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	}, WithTimeout(20*time.Millisecond))
	t.Cleanup(func() { close(release) })
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})

	_, err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeSessionExpired))
	assert.True(t, m.ReadSession(context.Background()).Empty())
}

func TestConcurrentRefreshIsShared(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	collector := observability.NewSessionCollector()

	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "A2"})
	}, WithHooks(observability.NewCLIHooks(0, collector, nil)))
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})

	const callers = 8
	var (
		started sync.WaitGroup
		done    sync.WaitGroup
		tokens  = make([]string, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			tokens[i], errs[i] = m.Refresh(context.Background())
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load(), "one refresh call for all callers")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "A2", tokens[i])
	}

	summary := collector.Summary()
	assert.Equal(t, 1, summary.Refreshes)
	assert.Equal(t, callers-1, summary.SharedRefreshes)
}

func TestRefreshCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "A2"})
	})
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Refresh(ctx)
		errc <- err
	}()

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// The shared refresh still completes for everyone else
	close(release)
	token, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
}

func TestRefreshDoesNotResurrectClearedSession(t *testing.T) {
	var m *Manager
	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		// Logout lands while the refresh call is in flight
		require.NoError(t, m.ClearSession(context.Background()))
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "A2", "refresh": "R2"})
	})
	seed(t, kv, map[string]string{store.KeyAccessToken: "A1", store.KeyRefreshToken: "R1"})

	_, err := m.Refresh(context.Background())
	assert.True(t, output.IsCode(err, output.CodeSessionExpired))
	assert.True(t, m.ReadSession(context.Background()).Empty())
}

func TestLogin(t *testing.T) {
	m, kv := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, LoginPath, r.URL.Path)
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, Credentials{Username: "ann", Password: "pw"}, creds)

		_, _ = w.Write([]byte(`{"access":"A1","refresh":"R1","user":{"id":1,"username":"ann"}}`))
	})

	res, err := m.Login(context.Background(), Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "A1", res.Access)
	assert.Equal(t, "R1", res.Refresh)
	assert.Equal(t, "1", res.User.ID())
	assert.Zero(t, kv.Len(), "login alone does not store the session")
}

func TestLoginWithoutUser(t *testing.T) {
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":"A1","refresh":"R1","user":null}`))
	})

	res, err := m.Login(context.Background(), Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	assert.Nil(t, res.User)
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"bad credentials", 401, `{"detail":"No active account found with the given credentials"}`, output.CodeAuth, "No active account found with the given credentials"},
		{"bad request no body", 400, ``, output.CodeAuth, "Invalid username or password"},
		{"server error", 500, ``, output.CodeServer, "Server error (500)"},
		{"missing tokens", 200, `{"access":"A1"}`, output.CodeAPI, "Login response did not include tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := m.Login(context.Background(), Credentials{Username: "ann", Password: "pw"})
			require.Error(t, err)
			e := output.AsError(err)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.message, e.Message)
		})
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	m := NewManager(store.NewMemory(), "http://127.0.0.1:8000")
	_, err := m.Login(context.Background(), Credentials{Username: "ann"})
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    42,
		"token_type": "access",
		"exp":        exp.Unix(),
	}).SignedString([]byte("server-secret"))
	require.NoError(t, err)

	claims, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "access", claims.TokenType)
	assert.True(t, exp.Equal(claims.ExpiresAt))
	assert.False(t, claims.Expired(time.Now()))
	assert.True(t, claims.Expired(exp.Add(time.Second)))
}

func TestParseClaimsRejectsGarbage(t *testing.T) {
	_, err := ParseClaims("not-a-jwt")
	assert.Error(t, err)
}
