package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// applyNetworkAllowlistLocked runs the iptables setup script inside the
// just-started container: established connections, loopback, DNS,
// host.docker.internal, and every configured allowed host (resolved) are
// accepted; everything else is dropped. Caller holds p.mu.
func (p *DockerProvider) applyNetworkAllowlistLocked(ctx context.Context) error {
	script := networkAllowlistScript(p.cfg.NetworkAllowedHosts)
	exitCode, reader, err := p.ctr.Exec(ctx, []string{"sh", "-c", script})
	if err != nil {
		return fmt.Errorf("sandbox: apply network allowlist: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("sandbox: network allowlist script exited %d", exitCode)
	}
	_ = reader
	return nil
}

// networkAllowlistScript builds the iptables ruleset: default-drop OUTPUT
// chain, with ESTABLISHED/RELATED, loopback, DNS, host.docker.internal,
// and each allowedHost accepted before the final DROP.
func networkAllowlistScript(allowedHosts []string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	b.WriteString("iptables -P OUTPUT DROP\n")
	b.WriteString("iptables -A OUTPUT -m state --state ESTABLISHED,RELATED -j ACCEPT\n")
	b.WriteString("iptables -A OUTPUT -o lo -j ACCEPT\n")
	b.WriteString("iptables -A OUTPUT -p udp --dport 53 -j ACCEPT\n")
	b.WriteString("iptables -A OUTPUT -p tcp --dport 53 -j ACCEPT\n")
	b.WriteString("for h in host.docker.internal " + strings.Join(allowedHosts, " ") + "; do\n")
	b.WriteString("  ip=$(getent hosts \"$h\" | awk '{print $1}')\n")
	b.WriteString("  [ -n \"$ip\" ] && iptables -A OUTPUT -d \"$ip\" -j ACCEPT\n")
	b.WriteString("done\n")
	return b.String()
}
