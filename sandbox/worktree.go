package sandbox

import (
	"context"
	"fmt"
)

// WorktreeManager creates and removes per-workflow git worktrees inside a
// provider's container, reusing a single bare clone at /workspace/repo.
// Every git invocation goes through Provider.ExecStream — the manager
// never calls docker directly, matching spec.md §4.7.
type WorktreeManager struct {
	provider Provider
	repoURL  string
}

// NewWorktreeManager builds a manager over repoURL's bare clone inside
// provider's container.
func NewWorktreeManager(provider Provider, repoURL string) *WorktreeManager {
	return &WorktreeManager{provider: provider, repoURL: repoURL}
}

const bareClonePath = "/workspace/repo"

// Setup fetches (or performs the initial bare clone of) repoURL at
// /workspace/repo. Safe to call repeatedly.
func (m *WorktreeManager) Setup(ctx context.Context) error {
	if err := m.run(ctx, "/workspace", "git", "-C", bareClonePath, "fetch", "--all"); err == nil {
		return nil
	}
	return m.run(ctx, "/workspace", "git", "clone", "--bare", m.repoURL, bareClonePath)
}

// Add creates /workspace/worktrees/{workflowID} on a new branch named
// workflowID off origin/base, pushes the branch, and returns the worktree
// path for the caller to bind a Session to.
func (m *WorktreeManager) Add(ctx context.Context, workflowID, base string) (string, error) {
	path := worktreePath(workflowID)
	if err := m.run(ctx, bareClonePath, "git", "worktree", "add", path, "-b", workflowID, "origin/"+base); err != nil {
		return "", fmt.Errorf("sandbox: create worktree for %s: %w", workflowID, err)
	}
	if err := m.run(ctx, path, "git", "push", "origin", workflowID); err != nil {
		return "", fmt.Errorf("sandbox: push branch %s: %w", workflowID, err)
	}
	return path, nil
}

// Remove tears down workflowID's worktree on any termination
// (completion, failure, or cancellation).
func (m *WorktreeManager) Remove(ctx context.Context, workflowID string) error {
	path := worktreePath(workflowID)
	return m.run(ctx, bareClonePath, "git", "worktree", "remove", "--force", path)
}

func worktreePath(workflowID string) string {
	return fmt.Sprintf("/workspace/worktrees/%s", workflowID)
}

func (m *WorktreeManager) run(ctx context.Context, cwd string, cmd ...string) error {
	exitCode, err := m.provider.ExecStream(ctx, cmd, cwd, nil, "", nil)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("sandbox: %v exited %d", cmd, exitCode)
	}
	return nil
}
