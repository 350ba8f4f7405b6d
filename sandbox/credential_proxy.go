package sandbox

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// CredentialProxy runs on the host and is the only process holding
// provider API keys and git credentials: the container's LLM_PROXY_URL
// and git credential helper point at host.docker.internal:{Port} instead.
// Requests under /llm/ are forwarded to the configured provider base URL
// with the host's key attached; requests under /git/credentials are
// answered from the host credential store, never proxied onward.
type CredentialProxy struct {
	Port int

	// ProviderBaseURL is the upstream LLM API (e.g. Anthropic's Messages
	// endpoint) requests under /llm/ are forwarded to.
	ProviderBaseURL string
	// APIKey is attached to every forwarded /llm/ request; it never
	// reaches the container.
	APIKey string
	// GitCredentials answers git/credentials lookups, keyed by host.
	GitCredentials map[string]string

	srv *http.Server
}

// Start begins serving on Port in a background goroutine. Call Shutdown
// to stop it.
func (p *CredentialProxy) Start(ctx context.Context) error {
	upstream, err := url.Parse(p.ProviderBaseURL)
	if err != nil {
		return fmt.Errorf("sandbox: parse provider base URL: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/llm/", p.llmProxy(upstream))
	mux.HandleFunc("/git/credentials", p.gitCredentials)

	p.srv = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", p.Port),
		Handler: mux,
	}
	ln, err := net.Listen("tcp", p.srv.Addr)
	if err != nil {
		return fmt.Errorf("sandbox: listen on %s: %w", p.srv.Addr, err)
	}
	go func() {
		_ = p.srv.Serve(ln)
	}()
	return nil
}

// Shutdown stops the proxy, waiting for in-flight requests per ctx.
func (p *CredentialProxy) Shutdown(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}

func (p *CredentialProxy) llmProxy(upstream *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	base := proxy.Director
	proxy.Director = func(r *http.Request) {
		base(r)
		r.URL.Path = trimPrefix(r.URL.Path, "/llm")
		r.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	return proxy
}

func (p *CredentialProxy) gitCredentials(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	cred, ok := p.GitCredentials[host]
	if !ok {
		http.Error(w, "no credential configured for host", http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(cred))
}

func trimPrefix(path, prefix string) string {
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		rest := path[len(prefix):]
		if rest == "" {
			return "/"
		}
		return rest
	}
	return path
}
