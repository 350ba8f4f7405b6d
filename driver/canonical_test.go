package driver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalToolNameMapsKnownCLITools(t *testing.T) {
	cases := map[string]string{
		"Read":      "read_file",
		"Write":     "write_file",
		"Edit":      "edit_file",
		"Bash":      "run_shell_command",
		"Grep":      "search_files",
		"Glob":      "list_files",
		"WebFetch":  "fetch_url",
		"WebSearch": "web_search",
	}
	for native, want := range cases {
		require.Equal(t, want, CanonicalToolName(native))
	}
}

func TestCanonicalToolNamePassesThroughUnknownNames(t *testing.T) {
	require.Equal(t, "some_custom_tool", CanonicalToolName("Some.Custom.Tool"))
	require.Equal(t, "already_snake", CanonicalToolName("already_snake"))
}

func TestAllowedToolsFilterEmptyAllowListPermitsEverything(t *testing.T) {
	require.True(t, AllowedToolsFilter(nil, "run_shell_command"))
	require.True(t, AllowedToolsFilter([]string{}, "anything"))
}

func TestAllowedToolsFilterRestrictsToList(t *testing.T) {
	allowed := []string{"read_file", "search_files"}
	require.True(t, AllowedToolsFilter(allowed, "read_file"))
	require.False(t, AllowedToolsFilter(allowed, "run_shell_command"))
}
