// Package hostutil provides shared utilities for host URL handling.
package hostutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Normalize converts a host string to a full URL.
// - Empty string returns empty
// - localhost, loopback and private LAN addresses default to http://
// - Other bare hostnames default to https://
// - Full URLs are used as-is, minus any trailing slash
func Normalize(host string) string {
	if host == "" {
		return ""
	}
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if IsLocalhost(host) || IsPrivate(host) {
		return "http://" + host
	}
	return "https://" + host
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	hostWithoutPort := stripPort(host)

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	// IPv6 loopback (must be bracketed for valid URL)
	return hostWithoutPort == "[::1]"
}

// IsPrivate returns true if host is an RFC 1918 address (with optional port).
// Device builds talk to a development backend on the LAN.
func IsPrivate(host string) bool {
	ip := net.ParseIP(stripPort(host))
	return ip != nil && ip.IsPrivate()
}

// RequireSecureURL rejects http:// URLs that leave the machine or the LAN.
func RequireSecureURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if IsLocalhost(u.Host) || IsPrivate(u.Host) {
		return nil
	}
	return fmt.Errorf("refusing insecure http:// URL %s: tokens would be sent in plaintext", rawURL)
}

// WebSocketBase maps an http(s) base URL onto its ws(s) equivalent.
func WebSocketBase(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func stripPort(host string) string {
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if strings.Contains(h, ":") {
		return "[" + h + "]"
	}
	return h
}
