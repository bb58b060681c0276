package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Cleanup(func() { Version, GitSHA, BuildTime = "dev", "unknown", "unknown" })

	assert.Equal(t, "dev (unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "0.3.1", "0123456789abcdef0123", "2024-06-01T12:00:00Z"
	assert.Equal(t, "0.3.1 (0123456789ab, built 2024-06-01T12:00:00Z)", String())
}
