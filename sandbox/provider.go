// Package sandbox is the C7 Sandbox Provider: it runs a workflow's
// developer tool calls inside an isolated Docker container rather than on
// the host, hands out per-workflow git worktrees inside that container,
// and proxies the container's outbound LLM/git traffic through a
// host-only credential proxy so no API key or git credential ever enters
// the container's filesystem.
package sandbox

import "context"

// Provider is the sandbox lifecycle contract a Profile's SandboxConfig
// selects an implementation of. One Provider instance is bound to one
// profile; EnsureRunning is idempotent so repeated calls across workflows
// reuse the same container.
type Provider interface {
	// EnsureRunning starts the profile's container if it is not already
	// running, waiting for HealthCheck to pass before returning.
	EnsureRunning(ctx context.Context) error

	// ExecStream runs command inside the running container under the
	// given working directory, streaming stdout line by line to onLine.
	// A non-zero exit code is not itself an error; callers inspect the
	// returned exit code.
	ExecStream(ctx context.Context, cmd []string, cwd string, env map[string]string, stdin string, onLine func(line string)) (exitCode int, err error)

	// Teardown stops and removes the container.
	Teardown(ctx context.Context) error

	// HealthCheck reports whether the container is running and responsive.
	HealthCheck(ctx context.Context) error
}
