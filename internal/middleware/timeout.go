package middleware

import (
	"net/http"
	"time"
)

// Timeout wraps a handler with an http.TimeoutHandler. /chat needs a
// generous budget: up to 3 CRAG iterations, each with an LLM-graded pass
// over every retrieved paper plus the mandated 500ms inter-call delay.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timeout"}`)
	}
}
