package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusconnect/campus-cli/internal/appctx"
	"github.com/campusconnect/campus-cli/internal/config"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
)

// fakeBackend serves canned responses keyed by "METHOD /path" and records
// request bodies.
type fakeBackend struct {
	mu     sync.Mutex
	routes map[string]string
	status map[string]int
	bodies map[string]string
}

func (b *fakeBackend) on(route string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[route] = body
	b.status[route] = status
}

func (b *fakeBackend) body(route string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[route]
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	data, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.bodies[route] = string(data)
	body, ok := b.routes[route]
	status := b.status[route]
	b.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// setupTestApp creates an app wired to a fake backend over an in-memory
// store. Output is JSON into the returned buffer.
func setupTestApp(t *testing.T) (*appctx.App, *fakeBackend, *bytes.Buffer) {
	t.Helper()
	t.Setenv("CAMPUS_PASSWORD", "")
	t.Setenv("CAMPUS_DEBUG", "")

	backend := &fakeBackend{routes: map[string]string{}, status: map[string]int{}, bodies: map[string]string{}}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.Store = config.StoreMemory
	cfg.MaxRetries = 0

	buf := &bytes.Buffer{}
	app := appctx.NewApp(cfg, store.NewMemory())
	app.Flags.JSON = true
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: buf})
	return app, backend, buf
}

func login(t *testing.T, app *appctx.App) {
	t.Helper()
	require.NoError(t, app.Gateway.Session().StoreSession(context.Background(), "access-1", "refresh-1"))
}

// executeCommand executes a cobra command with the given args.
func executeCommand(cmd *cobra.Command, app *appctx.App, args ...string) (string, error) {
	cmd.SetArgs(args)
	cmd.SetContext(appctx.WithApp(context.Background(), app))

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))

	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	return resp
}

func requireCode(t *testing.T, err error, code string) *output.Error {
	t.Helper()
	require.Error(t, err)
	e := output.AsError(err)
	require.Equal(t, code, e.Code, e.Message)
	return e
}

const profileJSON = `{"id": 42, "username": "ada", "first_name": "Ada", "last_name": "Lovelace"}`

func TestAuthLoginPasswordStdin(t *testing.T) {
	app, backend, buf := setupTestApp(t)
	backend.on("POST /api/login/", 200, `{"access": "A1", "refresh": "R1", "user": `+profileJSON+`}`)

	cmd := NewAuthCmd()
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetArgs([]string{"login", "--username", "ada", "--password-stdin"})
	cmd.SetContext(appctx.WithApp(context.Background(), app))
	require.NoError(t, cmd.Execute())

	var sent map[string]string
	require.NoError(t, json.Unmarshal([]byte(backend.body("POST /api/login/")), &sent))
	assert.Equal(t, map[string]string{"username": "ada", "password": "s3cret"}, sent)

	sess := app.Gateway.Session().ReadSession(context.Background())
	assert.Equal(t, "A1", sess.AccessToken)
	assert.Equal(t, "R1", sess.RefreshToken)

	resp := decode(t, buf)
	assert.Equal(t, "Logged in as Ada Lovelace", resp["summary"])
	assert.Equal(t, "ada", app.Gateway.GetCachedUser(context.Background()).Username())
}

func TestAuthLoginPasswordFromEnv(t *testing.T) {
	app, backend, _ := setupTestApp(t)
	t.Setenv("CAMPUS_PASSWORD", "from-env")
	backend.on("POST /api/login/", 200, `{"access": "A1", "refresh": "R1", "user": `+profileJSON+`}`)

	_, err := executeCommand(NewAuthCmd(), app, "login", "-u", "ada")
	require.NoError(t, err)
	assert.Contains(t, backend.body("POST /api/login/"), "from-env")
}

func TestAuthLoginMissingPassword(t *testing.T) {
	app, _, _ := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "login", "--username", "ada")
	requireCode(t, err, output.CodeUsage)
}

func TestAuthLoginRejected(t *testing.T) {
	app, backend, _ := setupTestApp(t)
	t.Setenv("CAMPUS_PASSWORD", "wrong")
	backend.on("POST /api/login/", 401, `{"detail": "No active account found with the given credentials"}`)

	_, err := executeCommand(NewAuthCmd(), app, "login", "-u", "ada")
	e := requireCode(t, err, output.CodeAuth)
	assert.Equal(t, "No active account found with the given credentials", e.Message)
	assert.False(t, app.Gateway.IsAuthenticated(context.Background()))
}

func TestAuthLogout(t *testing.T) {
	app, _, buf := setupTestApp(t)
	login(t, app)

	_, err := executeCommand(NewAuthCmd(), app, "logout")
	require.NoError(t, err)
	assert.False(t, app.Gateway.IsAuthenticated(context.Background()))
	assert.Equal(t, "Successfully logged out", decode(t, buf)["summary"])
}

func TestAuthStatus(t *testing.T) {
	app, _, buf := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "status")
	require.NoError(t, err)
	resp := decode(t, buf)
	assert.Equal(t, "Not authenticated", resp["summary"])

	buf.Reset()
	login(t, app)
	_, err = executeCommand(NewAuthCmd(), app, "status")
	require.NoError(t, err)
	resp = decode(t, buf)
	data := resp["data"].(map[string]any)
	assert.Equal(t, true, data["is_authenticated"])
	assert.Equal(t, "access-1", data["token_preview"])
}

func TestAuthRefresh(t *testing.T) {
	app, backend, _ := setupTestApp(t)
	login(t, app)
	backend.on("POST /api/refresh/", 200, `{"access": "access-2"}`)

	_, err := executeCommand(NewAuthCmd(), app, "refresh")
	require.NoError(t, err)

	sess := app.Gateway.Session().ReadSession(context.Background())
	assert.Equal(t, "access-2", sess.AccessToken)
	assert.Equal(t, "refresh-1", sess.RefreshToken)
}

func TestAuthRefreshFailureEndsSession(t *testing.T) {
	app, backend, _ := setupTestApp(t)
	login(t, app)
	backend.on("POST /api/refresh/", 401, `{"detail": "Token is invalid or expired"}`)

	_, err := executeCommand(NewAuthCmd(), app, "refresh")
	requireCode(t, err, output.CodeSessionExpired)
	assert.False(t, app.Gateway.IsAuthenticated(context.Background()))
}

func TestAuthToken(t *testing.T) {
	app, _, _ := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "token")
	requireCode(t, err, output.CodeAuth)

	login(t, app)
	app.Flags.JSON = false
	out, err := executeCommand(NewAuthCmd(), app, "token")
	require.NoError(t, err)
	assert.Equal(t, "access-1\n", out)
}

func TestAuthRegister(t *testing.T) {
	app, backend, buf := setupTestApp(t)
	t.Setenv("CAMPUS_PASSWORD", "hunter22")
	backend.on("POST /api/register/", 201, `{"id": 9, "username": "grace"}`)

	_, err := executeCommand(NewAuthCmd(), app, "register",
		"--username", "grace", "--email", "Grace@Example.edu", "--course", "CS", "--year", "2")
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(backend.body("POST /api/register/")), &sent))
	assert.Equal(t, "grace@example.edu", sent["email"])
	assert.Equal(t, "hunter22", sent["password"])
	assert.Equal(t, "Account created for grace", decode(t, buf)["summary"])
	assert.False(t, app.Gateway.IsAuthenticated(context.Background()), "registering does not log in")
}

func TestAuthRegisterValidation(t *testing.T) {
	app, backend, _ := setupTestApp(t)
	t.Setenv("CAMPUS_PASSWORD", "hunter22")

	_, err := executeCommand(NewAuthCmd(), app, "register",
		"--username", "gr", "--email", "grace@example.edu", "--course", "CS", "--year", "2")
	requireCode(t, err, output.CodeUsage)
	assert.Empty(t, backend.body("POST /api/register/"))
}

func TestMeRequiresLogin(t *testing.T) {
	app, _, _ := setupTestApp(t)

	_, err := executeCommand(NewMeCmd(), app)
	e := requireCode(t, err, output.CodeUsage)
	assert.Equal(t, "Not logged in", e.Message)
}

func TestMe(t *testing.T) {
	app, backend, buf := setupTestApp(t)
	login(t, app)
	backend.on("GET /api/users/current/", 200, profileJSON)

	_, err := executeCommand(NewMeCmd(), app)
	require.NoError(t, err)

	resp := decode(t, buf)
	assert.Equal(t, "Ada Lovelace", resp["summary"])
	meta := resp["meta"].(map[string]any)
	assert.Contains(t, meta["profile_picture_url"], "ui-avatars.com")

	// Second call is served from the cache.
	backend.on("GET /api/users/current/", 500, ``)
	buf.Reset()
	_, err = executeCommand(NewMeCmd(), app)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", decode(t, buf)["summary"])
}

func TestMeCached(t *testing.T) {
	app, _, buf := setupTestApp(t)

	_, err := executeCommand(NewMeCmd(), app, "--cached")
	requireCode(t, err, output.CodeUsage)

	var u map[string]any
	require.NoError(t, json.Unmarshal([]byte(profileJSON), &u))
	require.NoError(t, app.Gateway.HandleLoginSuccess(context.Background(), "a", "r", u))

	_, err = executeCommand(NewMeCmd(), app, "--cached")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace (cached)", decode(t, buf)["summary"])
}

func TestMeFlagConflict(t *testing.T) {
	app, _, _ := setupTestApp(t)

	_, err := executeCommand(NewMeCmd(), app, "--cached", "--refresh")
	requireCode(t, err, output.CodeUsage)
}

func TestUsersShow(t *testing.T) {
	app, backend, buf := setupTestApp(t)
	login(t, app)
	backend.on("GET /api/users/7/", 200, `{"id": 7, "username": "grace"}`)

	_, err := executeCommand(NewUsersCmd(), app, "show", "7")
	require.NoError(t, err)
	assert.Equal(t, "grace", decode(t, buf)["summary"])

	_, err = executeCommand(NewUsersCmd(), app, "show", "8")
	e := requireCode(t, err, output.CodeNotFound)
	assert.Equal(t, "User not found", e.Message)

	_, err = executeCommand(NewUsersCmd(), app, "show", "grace")
	requireCode(t, err, output.CodeUsage)
}

func TestProfileUpdate(t *testing.T) {
	app, backend, buf := setupTestApp(t)
	login(t, app)
	backend.on("PUT /api/profile/", 200, `{"success": true, "user": {"id": 42, "username": "ada", "year": 3}}`)

	_, err := executeCommand(NewProfileCmd(), app, "update", "--set", "year=3", "--set", "bio=Hello there")
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(backend.body("PUT /api/profile/")), &sent))
	assert.Equal(t, map[string]any{"year": float64(3), "bio": "Hello there"}, sent)
	assert.Equal(t, "Profile updated", decode(t, buf)["summary"])
	assert.Equal(t, "42", app.Gateway.GetCachedUser(context.Background()).ID())
}

func TestProfileUpdateNeedsFields(t *testing.T) {
	app, _, _ := setupTestApp(t)
	login(t, app)

	_, err := executeCommand(NewProfileCmd(), app, "update")
	requireCode(t, err, output.CodeUsage)

	_, err = executeCommand(NewProfileCmd(), app, "update", "--set", "novalue")
	requireCode(t, err, output.CodeUsage)
}

func TestProfilePicture(t *testing.T) {
	app, backend, _ := setupTestApp(t)
	login(t, app)
	backend.on("POST /api/profile/", 200, `{"success": true}`)
	backend.on("GET /api/users/current/", 200, `{"id": 42, "username": "ada", "profile_picture": "/media/ada.png"}`)

	path := filepath.Join(t.TempDir(), "ada.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\npng-bytes"), 0o600))

	_, err := executeCommand(NewProfileCmd(), app, "picture", path)
	require.NoError(t, err)
	assert.Contains(t, backend.body("POST /api/profile/"), `filename="ada.png"`)
	assert.Contains(t, backend.body("POST /api/profile/"), "png-bytes")
	assert.Contains(t, backend.body("POST /api/profile/"), "Content-Type: image/png")

	notImage := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notImage, []byte("hello"), 0o600))
	_, err = executeCommand(NewProfileCmd(), app, "picture", notImage)
	requireCode(t, err, output.CodeUsage)

	_, err = executeCommand(NewProfileCmd(), app, "picture", filepath.Join(t.TempDir(), "missing.png"))
	requireCode(t, err, output.CodeUsage)
}

func TestCacheShowAndClear(t *testing.T) {
	app, _, buf := setupTestApp(t)
	var u map[string]any
	require.NoError(t, json.Unmarshal([]byte(profileJSON), &u))
	require.NoError(t, app.Gateway.HandleLoginSuccess(context.Background(), "a", "r", u))

	_, err := executeCommand(NewCacheCmd(), app, "show")
	require.NoError(t, err)
	data := decode(t, buf)["data"].(map[string]any)
	assert.Equal(t, true, data["cached"])
	assert.Equal(t, "42", data["tracked_account"])

	buf.Reset()
	_, err = executeCommand(NewCacheCmd(), app, "clear")
	require.NoError(t, err)
	assert.Nil(t, app.Gateway.GetCachedUser(context.Background()))
	assert.True(t, app.Gateway.IsAuthenticated(context.Background()), "clearing the cache keeps the session")
}

func TestConnections(t *testing.T) {
	app, backend, buf := setupTestApp(t)
	login(t, app)
	backend.on("GET /api/students/", 200, `[{"id": 1}, {"id": 2}]`)
	backend.on("POST /api/send-request/", 201, `{"id": 5}`)
	backend.on("POST /api/respond-request/5/", 200, `{"status": "accepted"}`)
	backend.on("GET /api/my-requests/", 200, `{"sent_requests": [{"id": 6}], "received_requests": []}`)

	_, err := executeCommand(NewConnectionsCmd(), app, "students")
	require.NoError(t, err)
	assert.Equal(t, "Students (2)", decode(t, buf)["summary"])

	buf.Reset()
	_, err = executeCommand(NewConnectionsCmd(), app, "send", "2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"receiver_id": 2}`, backend.body("POST /api/send-request/"))

	buf.Reset()
	_, err = executeCommand(NewConnectionsCmd(), app, "respond", "5", "accept")
	require.NoError(t, err)
	assert.JSONEq(t, `{"action": "accept"}`, backend.body("POST /api/respond-request/5/"))

	buf.Reset()
	_, err = executeCommand(NewConnectionsCmd(), app, "requests")
	require.NoError(t, err)
	assert.Equal(t, "1 sent, 0 received", decode(t, buf)["summary"])

	_, err = executeCommand(NewConnectionsCmd(), app, "respond", "5", "maybe")
	requireCode(t, err, output.CodeUsage)
}

func TestConnectionsRequireLogin(t *testing.T) {
	app, _, _ := setupTestApp(t)

	_, err := executeCommand(NewConnectionsCmd(), app, "list")
	requireCode(t, err, output.CodeUsage)
}

func TestChatURL(t *testing.T) {
	app, _, _ := setupTestApp(t)

	_, err := executeCommand(NewChatCmd(), app, "url", "general")
	requireCode(t, err, output.CodeAuth)

	login(t, app)
	app.Flags.JSON = false
	out, err := executeCommand(NewChatCmd(), app, "url", "general")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ws://127.0.0.1:"), out)
	assert.Contains(t, out, "/ws/chat/general/?token=access-1")
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{"year=2", "bio=hi=there", `nick="007"`, "public=true", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"year":   float64(2),
		"bio":    "hi=there",
		"nick":   "007",
		"public": true,
		"empty":  "",
	}, fields)

	_, err = parseAssignments([]string{"=x"})
	requireCode(t, err, output.CodeUsage)
}

func TestReadSecret(t *testing.T) {
	s, err := readSecret(strings.NewReader("pw\r\nignored"))
	require.NoError(t, err)
	assert.Equal(t, "pw", s)

	s, err = readSecret(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", s)
}
