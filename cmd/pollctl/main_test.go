package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"login"}, {"logout"}, {"links", "issue"}, {"links", "bulk"}, {"stats"}, {"vote"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("session"))
}

func TestParsePollID(t *testing.T) {
	_, err := parsePollID("nope")
	assert.EqualError(t, err, `invalid poll id "nope"`)

	id, err := parsePollID("4a4c4c7e-1d1e-4c47-9a9a-0f6f4b1a2b3c")
	require.NoError(t, err)
	assert.Equal(t, "4a4c4c7e-1d1e-4c47-9a9a-0f6f4b1a2b3c", id.String())
}
