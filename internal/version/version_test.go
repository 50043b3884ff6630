package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, v, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })
	Version, Commit, Date = v, commit, date
}

func TestInfo(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "sauai dev")
	assert.Contains(t, info, "commit: unknown")
	assert.Contains(t, info, runtime.Version())
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestInfo_Release(t *testing.T) {
	withBuild(t, "1.4.0", "9f3c2ab81d7e", "2026-09-30")

	info := Info()
	assert.Contains(t, info, "sauai 1.4.0")
	assert.Contains(t, info, "commit: 9f3c2ab,")
	assert.NotContains(t, info, "9f3c2ab81d7e")
	assert.Contains(t, info, "built: 2026-09-30")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "sauai/dev", UserAgent())

	withBuild(t, "1.4.0", "x", "y")
	assert.Equal(t, "sauai/1.4.0", UserAgent())
}

func TestShort(t *testing.T) {
	tests := []struct{ in, want string }{
		{"abcdefghij", "abcdefg"},
		{"abc1234", "abc1234"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, short(tt.in), tt.in)
	}
}
