package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrimPrefixStripsMatchingPrefix(t *testing.T) {
	require.Equal(t, "/v1/messages", trimPrefix("/llm/v1/messages", "/llm"))
}

func TestTrimPrefixReturnsRootWhenPathEqualsPrefix(t *testing.T) {
	require.Equal(t, "/", trimPrefix("/llm", "/llm"))
}

func TestTrimPrefixLeavesNonMatchingPathUnchanged(t *testing.T) {
	require.Equal(t, "/other", trimPrefix("/other", "/llm"))
}

func TestGitCredentialsReturnsConfiguredSecret(t *testing.T) {
	p := &CredentialProxy{GitCredentials: map[string]string{"github.com": "token-abc"}}

	req := httptest.NewRequest(http.MethodGet, "/git/credentials?host=github.com", nil)
	rec := httptest.NewRecorder()
	p.gitCredentials(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "token-abc", rec.Body.String())
}

func TestGitCredentialsReturnsNotFoundForUnknownHost(t *testing.T) {
	p := &CredentialProxy{GitCredentials: map[string]string{}}

	req := httptest.NewRequest(http.MethodGet, "/git/credentials?host=gitlab.com", nil)
	rec := httptest.NewRecorder()
	p.gitCredentials(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLLMProxyAttachesHostAPIKeyAndStripsPrefix(t *testing.T) {
	var gotAuth, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	p := &CredentialProxy{APIKey: "sk-host-secret"}
	handler := p.llmProxy(upstreamURL)

	req := httptest.NewRequest(http.MethodPost, "/llm/v1/messages", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "Bearer sk-host-secret", gotAuth)
	require.Equal(t, "/v1/messages", gotPath)
}

func TestCredentialProxyStartAndShutdown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := &CredentialProxy{Port: 0, ProviderBaseURL: upstream.URL, GitCredentials: map[string]string{}}
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestCredentialProxyShutdownBeforeStartIsNoop(t *testing.T) {
	p := &CredentialProxy{}
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestCredentialProxyStartRejectsInvalidProviderURL(t *testing.T) {
	p := &CredentialProxy{ProviderBaseURL: "://bad-url"}
	require.Error(t, p.Start(context.Background()))
}
