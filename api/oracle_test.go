package api

import "testing"

import "github.com/stretchr/testify/require"

func TestWithinRootMatchesRootExactly(t *testing.T) {
	require.True(t, withinRoot("/repo", "/repo"))
}

func TestWithinRootMatchesDescendant(t *testing.T) {
	require.True(t, withinRoot("/repo", "/repo/sub/dir"))
}

func TestWithinRootRejectsBarePrefixCollision(t *testing.T) {
	require.False(t, withinRoot("/repo", "/repo-2"))
}

func TestWithinRootRejectsUnrelatedPath(t *testing.T) {
	require.False(t, withinRoot("/repo", "/other"))
}

func TestWithinRootToleratesTrailingSlashOnRoot(t *testing.T) {
	require.True(t, withinRoot("/repo/", "/repo/sub"))
	require.True(t, withinRoot("/repo/", "/repo"))
}
