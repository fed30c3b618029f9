package tui

import (
	"errors"

	"github.com/charmbracelet/huh"

	"github.com/campusconnect/campus-cli/internal/auth"
	"github.com/campusconnect/campus-cli/internal/gateway"
)

// Confirm shows a yes/no confirmation prompt.
func Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	err := huh.NewConfirm().
		Title(message).
		Affirmative("Yes").
		Negative("No").
		Value(&result).
		Run()
	if err != nil {
		return defaultValue, err
	}
	return result, nil
}

// InputRequired shows a required text input prompt.
func InputRequired(title, placeholder string) (string, error) {
	var result string
	err := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&result).
		Validate(required).
		Run()
	return result, err
}

// Password shows a masked input prompt.
func Password(title string) (string, error) {
	var result string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&result).
		Validate(required).
		Run()
	return result, err
}

// LoginForm asks for credentials. A non-empty username is prefilled.
func LoginForm(username string) (auth.Credentials, error) {
	creds := auth.Credentials{Username: username}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&creds.Username).
				Validate(required),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&creds.Password).
				Validate(required),
		).Title("Log in to Campus Connect"),
	).WithTheme(Theme())
	if err := form.Run(); err != nil {
		return auth.Credentials{}, err
	}
	return creds, nil
}

// RegisterForm collects a sign-up form, starting from r. Fields are
// validated as they are entered, and the password is asked twice.
func RegisterForm(r gateway.Registration) (gateway.Registration, error) {
	var confirm string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Username").Value(&r.Username).Validate(gateway.ValidateUsername),
			huh.NewInput().Title("Email").Value(&r.Email).Validate(gateway.ValidateEmail),
			huh.NewInput().Title("Course").Value(&r.Course).Validate(gateway.ValidateCourse),
			huh.NewInput().Title("Year of study").Placeholder("1-6").Value(&r.Year).Validate(gateway.ValidateYear),
		).Title("Create your account"),
		huh.NewGroup(
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&r.Password).
				Validate(gateway.ValidatePassword),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&confirm).
				Validate(func(s string) error { return matches(r.Password, s) }),
		),
	).WithTheme(Theme())
	if err := form.Run(); err != nil {
		return gateway.Registration{}, err
	}
	return r, nil
}

func required(s string) error {
	if s == "" {
		return errors.New("this field is required")
	}
	return nil
}

func matches(password, confirm string) error {
	if password != confirm {
		return errors.New("passwords do not match")
	}
	return nil
}
