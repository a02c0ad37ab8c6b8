package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUsesOverrides(t *testing.T) {
	prev := Commit
	Commit = "abc123"
	defer func() { Commit = prev }()

	info := Get()
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.String(), "commit: abc123")
}
