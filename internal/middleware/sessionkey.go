package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

type sessionKeyBody struct {
	SessionID string `json:"session_id"`
}

// SessionKey peeks the JSON request body for a session_id field and stores
// it on the request context via WithUserID, so RateLimit (which runs before
// the handler parses the body) can key on the session rather than the
// client's remote address. The body is restored after peeking so the
// handler can still decode it normally.
func SessionKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		var peeked sessionKeyBody
		if err := json.Unmarshal(body, &peeked); err == nil && peeked.SessionID != "" {
			r = r.WithContext(WithUserID(r.Context(), peeked.SessionID))
		}

		next.ServeHTTP(w, r)
	})
}
