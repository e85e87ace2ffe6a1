package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveHeaders(h Headers, req *http.Request) http.Header {
	rr := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr.Header()
}

func TestHeadersOnOrderLookupOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/api/v1/orders/ORDER-1", nil)
	req.TLS = &tls.ConnectionState{}
	got := serveHeaders(Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true, NoStore: true}, req)

	require.Equal(t, "nosniff", got.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", got.Get("X-Frame-Options"))
	require.Equal(t, "no-store", got.Get("Cache-Control"))
	require.Equal(t, defaultCSP, got.Get("Content-Security-Policy"))
	require.Equal(t, "max-age=600; includeSubDomains", got.Get("Strict-Transport-Security"))
}

func TestHeadersSkipHSTSOverPlainHTTP(t *testing.T) {
	got := serveHeaders(Headers{Enable: true, EnableHSTS: true}, httptest.NewRequest(http.MethodGet, "http://shop.example/health/live", nil))
	require.Empty(t, got.Get("Strict-Transport-Security"))
	require.Empty(t, got.Get("Cache-Control"))
}

func TestHeadersCustomPolicy(t *testing.T) {
	got := serveHeaders(Headers{Enable: true, ContentSecurityPolicy: "default-src 'self'"}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "default-src 'self'", got.Get("Content-Security-Policy"))
}

func TestHeadersDisabled(t *testing.T) {
	got := serveHeaders(Headers{Enable: false, EnableHSTS: true}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, got.Get("X-Content-Type-Options"))
	require.Empty(t, got.Get("Content-Security-Policy"))
}
