package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"run"}, {"cycle"}, {"check"}, {"show"}, {"export"}, {"backfill"}, {"config", "show"}, {"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestCheckRequiresText(t *testing.T) {
	assert.Error(t, checkCmd.Args(checkCmd, nil))
	assert.NoError(t, checkCmd.Args(checkCmd, []string{"ETH", "above", "$3,500"}))
}
