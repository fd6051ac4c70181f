package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(remoteAddr string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestGateNoAuth(t *testing.T) {
	g := &Gate{NoAuth: true}
	id, ok := g.Authenticate(newRequest("203.0.113.5:1234", nil))
	require.True(t, ok)
	assert.Equal(t, "no-auth", id.Method)
}

func TestGateTailscaleRequiresLoopbackAndProxyHeaders(t *testing.T) {
	g := &Gate{AllowTailscale: true}

	// Not loopback: rejected even with the right headers.
	_, ok := g.Authenticate(newRequest("203.0.113.5:1234", map[string]string{
		"X-Forwarded-For":     "1.2.3.4",
		"Tailscale-User-Login": "alice@example.com",
	}))
	assert.False(t, ok)

	// Loopback but no forwarding headers: rejected.
	_, ok = g.Authenticate(newRequest("127.0.0.1:1234", map[string]string{
		"Tailscale-User-Login": "alice@example.com",
	}))
	assert.False(t, ok)

	// Loopback with forwarding headers and login header: accepted.
	id, ok := g.Authenticate(newRequest("127.0.0.1:1234", map[string]string{
		"X-Forwarded-For":      "1.2.3.4",
		"Tailscale-User-Login": "alice@example.com",
	}))
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", id.Username)
	assert.Equal(t, "tailscale", id.Method)
}

func TestGateLocalBypassRequiresNoProxyHeaders(t *testing.T) {
	g := &Gate{AllowLocalBypass: true, LocalToken: "secret"}

	// Loopback with a forwarding header present: local-bypass does not apply.
	_, ok := g.Authenticate(newRequest("127.0.0.1:1234", map[string]string{
		"X-Real-IP": "1.2.3.4",
	}))
	assert.False(t, ok)

	// Loopback, no proxy headers, wrong token: rejected.
	_, ok = g.Authenticate(newRequest("127.0.0.1:1234", map[string]string{
		"X-VibeTunnel-Local": "wrong",
	}))
	assert.False(t, ok)

	// Loopback, no proxy headers, correct token: accepted.
	id, ok := g.Authenticate(newRequest("127.0.0.1:1234", map[string]string{
		"X-VibeTunnel-Local": "secret",
	}))
	require.True(t, ok)
	assert.Equal(t, "local-bypass", id.Method)
}

func TestGateBearerToken(t *testing.T) {
	g := &Gate{HQBearerToken: "hq-secret"}

	r := newRequest("203.0.113.5:1234", map[string]string{"Authorization": "Bearer hq-secret"})
	id, ok := g.Authenticate(r)
	require.True(t, ok)
	assert.Equal(t, "hq-bearer", id.Method)

	r2 := newRequest("203.0.113.5:1234", map[string]string{"Authorization": "Bearer wrong"})
	_, ok = g.Authenticate(r2)
	assert.False(t, ok)
}

func TestGateQueryToken(t *testing.T) {
	g := &Gate{HQBearerToken: "hq-secret"}
	r := httptest.NewRequest(http.MethodGet, "/api/sessions?token=hq-secret", nil)
	r.RemoteAddr = "203.0.113.5:1234"
	id, ok := g.Authenticate(r)
	require.True(t, ok)
	assert.Equal(t, "hq-bearer", id.Method)
}

func TestGateJWT(t *testing.T) {
	v := NewTokenVerifier([]byte("test-secret"))
	tok, err := v.Issue("bob", time.Hour)
	require.NoError(t, err)

	g := &Gate{Verifier: v}
	r := newRequest("203.0.113.5:1234", map[string]string{"Authorization": "Bearer " + tok})
	id, ok := g.Authenticate(r)
	require.True(t, ok)
	assert.Equal(t, "bob", id.Username)
	assert.Equal(t, "jwt", id.Method)
}

func TestGateExpiredJWT(t *testing.T) {
	v := NewTokenVerifier([]byte("test-secret"))
	tok, err := v.Issue("bob", -time.Hour)
	require.NoError(t, err)

	g := &Gate{Verifier: v}
	r := newRequest("203.0.113.5:1234", map[string]string{"Authorization": "Bearer " + tok})
	_, ok := g.Authenticate(r)
	assert.False(t, ok)
}

func TestIsExempt(t *testing.T) {
	assert.True(t, IsExempt("/logs"))
	assert.True(t, IsExempt("/healthz"))
	assert.True(t, IsExempt("/api/auth/login"))
	assert.False(t, IsExempt("/api/sessions"))
}

func TestMiddlewareRejectsWithChallenge(t *testing.T) {
	g := &Gate{}
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := newRequest("203.0.113.5:1234", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestMiddlewarePassesIdentityThrough(t *testing.T) {
	g := &Gate{NoAuth: true}
	var gotID Identity
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := newRequest("203.0.113.5:1234", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-auth-user", gotID.Username)
}
