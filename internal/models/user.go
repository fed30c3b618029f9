// Package models provides the user profile record shared by the cache,
// the fetcher and the command layer.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// User is a profile as returned by the backend. The server owns the shape,
// so it is kept as an open JSON object; only id and username are required.
type User map[string]any

// ParseUser decodes a JSON object into a User. Numbers are kept as
// json.Number so large ids survive unchanged.
func ParseUser(data []byte) (User, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var u User
	if err := dec.Decode(&u); err != nil {
		return nil, err
	}
	return u, nil
}

// ID returns the account id as a string, or "" when absent.
func (u User) ID() string {
	return stringify(u["id"])
}

// Username returns the username, or "" when absent.
func (u User) Username() string {
	return stringify(u["username"])
}

// Valid reports whether both id and username are present and non-empty.
// A zero id counts as missing.
func (u User) Valid() bool {
	id := u.ID()
	return id != "" && id != "0" && u.Username() != ""
}

// FullName returns "first last", falling back to the username and then to
// "Unknown User".
func (u User) FullName() string {
	if u == nil {
		return "Unknown User"
	}
	full := strings.TrimSpace(stringify(u["first_name"]) + " " + stringify(u["last_name"]))
	if full != "" {
		return full
	}
	if name := u.Username(); name != "" {
		return name
	}
	return "Unknown User"
}

// ProfilePicture resolves the profile picture against baseURL. Absolute URLs
// are returned as is; without a picture a generated avatar is used.
func (u User) ProfilePicture(baseURL string) string {
	pic := stringify(u["profile_picture"])
	if pic != "" {
		if strings.HasPrefix(pic, "http://") || strings.HasPrefix(pic, "https://") {
			return pic
		}
		if !strings.HasPrefix(pic, "/") {
			pic = "/" + pic
		}
		return strings.TrimSuffix(baseURL, "/") + pic
	}

	name := u.Username()
	if name == "" {
		name = "User"
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=10b981&color=fff&size=128"
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%.0f", t)
	case bool:
		if !t {
			return ""
		}
		return "true"
	default:
		return fmt.Sprint(t)
	}
}
