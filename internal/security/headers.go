package security

import (
	"net/http"
	"strconv"
)

// Headers sets the security headers every storefront response carries.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// NoStore marks responses uncacheable. Checkout and order responses carry
	// deliverable content and must not end up in shared caches.
	NoStore bool
	// ContentSecurityPolicy defaults to a policy that only allows the API's
	// own JSON and QR images to be fetched, never rendered as a page.
	ContentSecurityPolicy string
}

const defaultCSP = "default-src 'none'; img-src 'self'; frame-ancestors 'none'"

func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Enable {
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		csp := h.ContentSecurityPolicy
		if csp == "" {
			csp = defaultCSP
		}
		headers.Set("Content-Security-Policy", csp)
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
		}
		if h.EnableHSTS && r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			value := "max-age=" + strconv.Itoa(maxAge)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}
