package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// withBuild sets the ldflags variables for one test.
func withBuild(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
	Version, Commit, Date = version, commit, date
}

func TestFull(t *testing.T) {
	withBuild(t, "dev", "none", "unknown")
	assert.True(t, IsDev())
	assert.Equal(t, "campus version dev (built from source)", Full())

	withBuild(t, "0.4.1", "none", "unknown")
	assert.False(t, IsDev())
	assert.Equal(t, "campus version 0.4.1", Full())
}

func TestBuild(t *testing.T) {
	withBuild(t, "0.4.1", "none", "unknown")
	assert.Empty(t, Build())

	withBuild(t, "0.4.1", "", "unknown")
	assert.Empty(t, Build())

	withBuild(t, "0.4.1", "3f9c2d81e0b7a64c", "2026-09-30T12:00:00Z")
	assert.Equal(t, "commit 3f9c2d8, built 2026-09-30T12:00:00Z", Build())

	withBuild(t, "0.4.1", "abc12", "2026-09-30T12:00:00Z")
	assert.Equal(t, "commit abc12, built 2026-09-30T12:00:00Z", Build())
}

func TestUserAgentCarriesVersion(t *testing.T) {
	withBuild(t, "0.4.1", "none", "unknown")
	assert.Equal(t, "campus-cli/0.4.1 (https://github.com/campusconnect/campus-cli)", UserAgent())
}
