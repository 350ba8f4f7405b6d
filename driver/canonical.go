package driver

import (
	"strings"
)

// cliToolNames maps the tool names a CLI-SDK driver (claude, codex) emits
// in its own vocabulary to Amelia's canonical tool identifiers. Agents and
// the allowed_tools filter operate only on canonical names, so every
// driver is responsible for translating through this table before an
// AgenticMessage leaves the package.
var cliToolNames = map[string]string{
	"Read":      "read_file",
	"Write":     "write_file",
	"Edit":      "edit_file",
	"Bash":      "run_shell_command",
	"Grep":      "search_files",
	"Glob":      "list_files",
	"WebFetch":  "fetch_url",
	"WebSearch": "web_search",
}

// CanonicalToolName maps a driver-native tool name to Amelia's canonical
// vocabulary. Unknown names pass through unchanged (lowercased, with the
// provider's namespace separator normalized to underscore) rather than
// being rejected outright, so a driver update that adds a new native tool
// doesn't hard-fail every turn until this table catches up.
func CanonicalToolName(nativeName string) string {
	if canon, ok := cliToolNames[nativeName]; ok {
		return canon
	}
	return strings.ReplaceAll(strings.ToLower(nativeName), ".", "_")
}

// AllowedToolsFilter reports whether canonicalName is present in allowed,
// the agent's configured allow-list. An empty allow-list means every tool
// is permitted.
func AllowedToolsFilter(allowed []string, canonicalName string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == canonicalName {
			return true
		}
	}
	return false
}
