package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/campusconnect/campus-cli/internal/models"
	"github.com/campusconnect/campus-cli/internal/output"
)

// Credentials are the login form values.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is a successful login response. User is nil when the server
// did not include a profile.
type LoginResult struct {
	Access  string
	Refresh string
	User    models.User
}

// Login exchanges credentials for a token pair. It does not store the
// session; the caller decides how a successful login is recorded.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, output.ErrUsage("Username and password are required")
	}

	status, body, err := m.send(ctx, LoginPath, creds)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		msg := output.MessageFromBody(body)
		if msg == "" {
			msg = "Invalid username or password"
		}
		e := output.ErrAuth(msg)
		e.HTTPStatus = status
		e.Hint = ""
		return nil, e
	case status < 200 || status >= 300:
		return nil, output.ErrFromStatus(status, body, "")
	}

	var resp struct {
		Access  string          `json:"access"`
		Refresh string          `json:"refresh"`
		User    json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, output.ErrAPI(status, "Invalid login response")
	}
	if resp.Access == "" || resp.Refresh == "" {
		return nil, output.ErrAPI(status, "Login response did not include tokens")
	}

	result := &LoginResult{Access: resp.Access, Refresh: resp.Refresh}
	if len(resp.User) > 0 && string(resp.User) != "null" {
		user, err := models.ParseUser(resp.User)
		if err != nil {
			m.logger.Debug("ignoring unreadable user in login response", "error", err)
		} else {
			result.User = user
		}
	}
	return result, nil
}
