package hostutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Empty
		{"", ""},

		// Full URLs passed through
		{"http://example.com", "http://example.com"},
		{"https://example.com/", "https://example.com"},
		{"http://127.0.0.1:8000", "http://127.0.0.1:8000"},

		// Localhost variants → http
		{"localhost", "http://localhost"},
		{"localhost:8000", "http://localhost:8000"},
		{"127.0.0.1:8000", "http://127.0.0.1:8000"},
		{"[::1]:8000", "http://[::1]:8000"},
		{"app.localhost", "http://app.localhost"},

		// LAN dev backends → http
		{"192.168.130.16:8000", "http://192.168.130.16:8000"},
		{"10.15.3.90:8000", "http://10.15.3.90:8000"},

		// Everything else → https
		{"campus.example.edu", "https://campus.example.edu"},
		{"localhost.example.com", "https://localhost.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestRequireSecureURL(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"https://campus.example.edu", false},
		{"", false},
		{"http://localhost:8000", false},
		{"http://127.0.0.1:8000", false},
		{"http://192.168.130.16:8000", false},
		{"http://campus.example.edu", true},
		{"http://8.8.8.8", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := RequireSecureURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "insecure http://")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"localhost", true},
		{"localhost:3000", true},
		{"app.localhost:3000", true},
		{"127.0.0.1", true},
		{"127.0.0.1:3000", true},
		{"[::1]", true},
		{"[::1]:3000", true},

		{"::1", false}, // bare ::1 is invalid URL format
		{"example.com", false},
		{"localhost.example.com", false},
		{"127.0.0.2", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.input))
		})
	}
}

func TestWebSocketBase(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8000", WebSocketBase("http://127.0.0.1:8000"))
	assert.Equal(t, "wss://campus.example.edu", WebSocketBase("https://campus.example.edu"))
	assert.Equal(t, "ftp://x", WebSocketBase("ftp://x"))
}

func TestIsPrivate(t *testing.T) {
	assert.True(t, IsPrivate("192.168.130.16:8000"))
	assert.True(t, IsPrivate("10.0.0.4"))
	assert.True(t, IsPrivate("172.16.5.1:8000"))
	assert.False(t, IsPrivate("8.8.8.8"))
	assert.False(t, IsPrivate("campus.example.edu"))
	assert.False(t, IsPrivate("127.0.0.1"))
}
