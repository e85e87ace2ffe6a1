package security

import (
	"bytes"
	"io"
	"mime"
	"net/http"

	"github.com/noah-isme/toko-qris/internal/common"
)

// BodyLimit guards the JSON bodies of write requests. Bodies larger than Max
// are refused with 413 and bodies that are not JSON with 415. Requests
// without a body, such as the submit and retry actions, pass untouched.
type BodyLimit struct {
	Max int64
}

// Middleware applies the limit to POST, PUT and PATCH requests.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasBody(r) {
			next.ServeHTTP(w, r)
			return
		}
		if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
			common.WriteError(w, common.NewAppError("UNSUPPORTED_MEDIA_TYPE", "request body must be application/json", http.StatusUnsupportedMediaType, err))
			return
		}
		if b.Max <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			b.tooLarge(w)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
		_ = r.Body.Close()
		if err != nil {
			common.WriteError(w, common.NewAppError("BAD_REQUEST", "invalid request body", http.StatusBadRequest, err))
			return
		}
		if int64(len(buf)) > b.Max {
			b.tooLarge(w)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func (b BodyLimit) tooLarge(w http.ResponseWriter) {
	common.WriteError(w, common.NewAppError("PAYLOAD_TOO_LARGE", "request entity too large", http.StatusRequestEntityTooLarge, nil).
		WithDetails(map[string]any{"maxBytes": b.Max}))
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
