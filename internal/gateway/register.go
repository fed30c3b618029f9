package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/campusconnect/campus-cli/internal/api"
	"github.com/campusconnect/campus-cli/internal/output"
)

// RegisterPath is the account creation endpoint.
const RegisterPath = "/api/register/"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Registration is the sign-up form.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Course   string `json:"course"`
	Year     string `json:"year"`
	// ProfilePictureBase64 is an optional encoded image.
	ProfilePictureBase64 string `json:"profile_picture_base64,omitempty"`
}

// Field validators, shared with the interactive form.

func ValidateUsername(s string) error {
	if len(strings.TrimSpace(s)) < 3 {
		return errors.New("username must be at least 3 characters")
	}
	return nil
}

func ValidateEmail(s string) error {
	if !emailPattern.MatchString(strings.TrimSpace(s)) {
		return errors.New("please enter a valid email")
	}
	return nil
}

func ValidatePassword(s string) error {
	if len(s) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

func ValidateCourse(s string) error {
	if len(strings.TrimSpace(s)) < 2 {
		return errors.New("course name is required")
	}
	return nil
}

func ValidateYear(s string) error {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || year < 1 || year > 6 {
		return errors.New("enter a valid year (1-6)")
	}
	return nil
}

// Validate checks every field and returns the first problem as a usage
// error.
func (r Registration) Validate() error {
	checks := []struct {
		value string
		fn    func(string) error
	}{
		{r.Username, ValidateUsername},
		{r.Email, ValidateEmail},
		{r.Password, ValidatePassword},
		{r.Course, ValidateCourse},
		{r.Year, ValidateYear},
	}
	for _, c := range checks {
		if err := c.fn(c.value); err != nil {
			return output.ErrUsage(capitalize(err.Error()))
		}
	}
	return nil
}

func (r Registration) normalized() Registration {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Course = strings.TrimSpace(r.Course)
	r.Year = strings.TrimSpace(r.Year)
	return r
}

// Register creates an account. It needs no session and does not create
// one; the new user logs in afterwards.
func (g *Gateway) Register(ctx context.Context, r Registration) (json.RawMessage, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	resp, err := g.client.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   RegisterPath,
		Body:   r.normalized(),
		NoAuth: true,
	})
	if err != nil {
		if e := output.AsError(err); e.Code == output.CodeAPI && e.HTTPStatus == http.StatusBadRequest {
			return nil, registrationRejected(e)
		}
		return nil, err
	}
	return resp.Data, nil
}

// registrationRejected keeps a server message when there is one.
// Otherwise field errors such as {"username": ["already exists"]} are not
// lifted by the generic mapper, so the message is made explicit.
func registrationRejected(e *output.Error) error {
	if strings.HasPrefix(e.Message, "Server error") {
		return &output.Error{
			Code:       output.CodeAPI,
			Message:    "Registration failed",
			Hint:       "Check the username and email are not already in use",
			HTTPStatus: e.HTTPStatus,
			Cause:      e,
		}
	}
	return e
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
