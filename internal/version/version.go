// Package version provides build-time version information.
// These variables are set via ldflags at build time.
package version

var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit SHA
	Commit = "none"

	// Date is the build date in RFC3339 format
	Date = "unknown"
)

// IsDev reports whether this is a source build.
func IsDev() bool {
	return Version == "dev"
}

// Full returns the full version string for display.
func Full() string {
	if IsDev() {
		return "campus version dev (built from source)"
	}
	return "campus version " + Version
}

// Build describes the commit and build date, or "" for builds without
// ldflags. Commits are shortened to seven characters.
func Build() string {
	if Commit == "" || Commit == "none" {
		return ""
	}
	commit := Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return "commit " + commit + ", built " + Date
}

// UserAgent returns the user agent string for API requests.
func UserAgent() string {
	return "campus-cli/" + Version + " (https://github.com/campusconnect/campus-cli)"
}
