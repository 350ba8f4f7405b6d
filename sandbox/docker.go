package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/amelia-run/amelia/workflow"
)

// DockerProvider runs one container per profile, named
// amelia-sandbox-{profile}, built from workflow.SandboxConfig.Image and
// kept alive with `sleep infinity` so exec calls can be issued against it
// repeatedly across a profile's workflows.
type DockerProvider struct {
	profileID string
	cfg       workflow.SandboxConfig

	mu  sync.Mutex
	ctr testcontainers.Container
}

// NewDockerProvider builds a Provider for profileID using cfg. The
// container is not started until EnsureRunning is called.
func NewDockerProvider(profileID string, cfg workflow.SandboxConfig) *DockerProvider {
	return &DockerProvider{profileID: profileID, cfg: cfg}
}

var _ Provider = (*DockerProvider)(nil)

func (p *DockerProvider) containerName() string {
	return fmt.Sprintf("amelia-sandbox-%s", p.profileID)
}

// EnsureRunning starts the profile's container with NET_ADMIN/NET_RAW
// capabilities (required by the optional iptables allowlist) if it is not
// already running, and waits for HealthCheck to pass.
func (p *DockerProvider) EnsureRunning(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctr != nil {
		return p.healthCheckLocked(ctx)
	}

	req := testcontainers.ContainerRequest{
		Image: p.cfg.Image,
		Name:  p.containerName(),
		Cmd:   []string{"sleep", "infinity"},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.CapAdd = []string{"NET_ADMIN", "NET_RAW"}
		},
		WaitingFor: wait.ForExec([]string{"true"}),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("sandbox: start container %s: %w", p.containerName(), err)
	}
	p.ctr = ctr
	if p.cfg.NetworkAllowlistEnabled {
		if err := p.applyNetworkAllowlistLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ExecStream runs cmd inside the container, parsing stdout line by line.
func (p *DockerProvider) ExecStream(ctx context.Context, cmd []string, cwd string, env map[string]string, stdin string, onLine func(line string)) (int, error) {
	p.mu.Lock()
	ctr := p.ctr
	p.mu.Unlock()
	if ctr == nil {
		return 0, fmt.Errorf("sandbox: container %s is not running", p.containerName())
	}

	full := wrapWithEnvAndDir(cmd, cwd, env)
	exitCode, reader, err := ctr.Exec(ctx, full, tcexec.WithUser("vscode"))
	if err != nil {
		return 0, fmt.Errorf("sandbox: exec %v: %w", cmd, err)
	}
	if onLine != nil {
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
	} else {
		_, _ = io.Copy(io.Discard, reader)
	}
	return exitCode, nil
}

// Teardown stops and removes the container.
func (p *DockerProvider) Teardown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctr == nil {
		return nil
	}
	err := p.ctr.Terminate(ctx)
	p.ctr = nil
	return err
}

// HealthCheck reports whether the container is running.
func (p *DockerProvider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthCheckLocked(ctx)
}

func (p *DockerProvider) healthCheckLocked(ctx context.Context) error {
	if p.ctr == nil {
		return fmt.Errorf("sandbox: container %s is not running", p.containerName())
	}
	state, err := p.ctr.State(ctx)
	if err != nil {
		return fmt.Errorf("sandbox: inspect container state: %w", err)
	}
	if !state.Running {
		return fmt.Errorf("sandbox: container %s is not running (status=%s)", p.containerName(), state.Status)
	}
	return nil
}

func wrapWithEnvAndDir(cmd []string, cwd string, env map[string]string) []string {
	sh := strings.Join(cmd, " ")
	var b strings.Builder
	if cwd != "" {
		fmt.Fprintf(&b, "cd %q && ", cwd)
	}
	for k, v := range env {
		fmt.Fprintf(&b, "%s=%q ", k, v)
	}
	b.WriteString(sh)
	return []string{"sh", "-c", b.String()}
}
