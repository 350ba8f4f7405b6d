package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amelia-run/amelia/workflow"
)

func TestContainerNameIsNamespacedByProfile(t *testing.T) {
	p := NewDockerProvider("default", workflow.SandboxConfig{})
	require.Equal(t, "amelia-sandbox-default", p.containerName())
}

func TestWrapWithEnvAndDirIncludesCwd(t *testing.T) {
	out := wrapWithEnvAndDir([]string{"ls", "-la"}, "/workspace/worktrees/wf-1", nil)
	require.Equal(t, []string{"sh", "-c", `cd "/workspace/worktrees/wf-1" && ls -la`}, out)
}

func TestWrapWithEnvAndDirOmitsCwdWhenEmpty(t *testing.T) {
	out := wrapWithEnvAndDir([]string{"echo", "hi"}, "", nil)
	require.Equal(t, []string{"sh", "-c", "echo hi"}, out)
}

func TestWrapWithEnvAndDirIncludesEnvVars(t *testing.T) {
	out := wrapWithEnvAndDir([]string{"env"}, "", map[string]string{"FOO": "bar"})
	require.Contains(t, out[2], `FOO="bar"`)
	require.Contains(t, out[2], "env")
}

func TestExecStreamFailsWhenContainerNotRunning(t *testing.T) {
	p := NewDockerProvider("default", workflow.SandboxConfig{})
	_, err := p.ExecStream(context.Background(), []string{"true"}, "", nil, "", nil)
	require.Error(t, err)
}

func TestHealthCheckFailsWhenContainerNotRunning(t *testing.T) {
	p := NewDockerProvider("default", workflow.SandboxConfig{})
	require.Error(t, p.HealthCheck(context.Background()))
}

func TestTeardownIsNoopWhenContainerNeverStarted(t *testing.T) {
	p := NewDockerProvider("default", workflow.SandboxConfig{})
	require.NoError(t, p.Teardown(context.Background()))
}
