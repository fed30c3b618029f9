// Package output provides JSON/styled output formatting and error handling.
package output

// Exit codes.
const (
	ExitOK        = 0 // Success
	ExitUsage     = 1 // Invalid arguments or flags
	ExitNotFound  = 2 // Resource not found
	ExitAuth      = 3 // Not authenticated or session ended
	ExitForbidden = 4 // Access denied
	ExitRateLimit = 5 // Rate limited (429)
	ExitNetwork   = 6 // Connection/DNS/timeout error
	ExitAPI       = 7 // Server returned error or unusable data
	ExitStorage   = 8 // Credential store failure
)

// Error codes for JSON envelope. Each code is one error kind.
const (
	CodeUsage          = "usage"
	CodeNotFound       = "not_found"
	CodeAuth           = "auth_required"
	CodeForbidden      = "forbidden"
	CodeRateLimit      = "rate_limit"
	CodeNetwork        = "network"
	CodeTimeout        = "timeout"
	CodeServer         = "server"
	CodeAPI            = "api_error"
	CodeInvalidProfile = "invalid_profile"
	CodeNoRefreshToken = "no_refresh_token"
	CodeSessionExpired = "session_expired"
	CodeStorage        = "storage"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth, CodeNoRefreshToken, CodeSessionExpired:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork, CodeTimeout:
		return ExitNetwork
	case CodeStorage:
		return ExitStorage
	default:
		return ExitAPI
	}
}
