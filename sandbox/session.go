package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// Session binds a Provider to one workflow's worktree, satisfying
// driver/container.Execer so the container driver can route a developer
// agent's run_shell_command tool calls into this workflow's sandbox
// without shelling out to docker directly.
type Session struct {
	provider     Provider
	worktreePath string
}

// NewSession returns a Session bound to worktreePath inside provider's
// container. Callers obtain worktreePath from WorktreeManager.Add.
func NewSession(provider Provider, worktreePath string) *Session {
	return &Session{provider: provider, worktreePath: worktreePath}
}

// Exec implements driver/container.Execer by running command+args inside
// the session's worktree, buffering stdout into a single string.
func (s *Session) Exec(ctx context.Context, command string, args []string) (string, int, error) {
	var out strings.Builder
	cmd := append([]string{command}, args...)
	exitCode, err := s.provider.ExecStream(ctx, cmd, s.worktreePath, nil, "", func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
	})
	if err != nil {
		return "", 0, fmt.Errorf("sandbox: session exec: %w", err)
	}
	if exitCode != 0 {
		stderr := out.String()
		if len(stderr) > 1000 {
			stderr = stderr[:1000]
		}
		return out.String(), exitCode, fmt.Errorf("sandbox: command exited %d: %s", exitCode, stderr)
	}
	return out.String(), exitCode, nil
}
