// Package sessionstore persists SessionContext (C4) with a sliding TTL.
// Redis is the production backend; an in-memory fallback serves local
// development when REDIS_URL is unset.
package sessionstore

import (
	"context"
	"errors"

	"github.com/aesop-rag/aesop/internal/model"
)

// ErrNotFound is returned when a session id has no stored context, either
// because it never existed or because it expired.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store is the session persistence contract used by the orchestrator (C13)
// and the /session/{id} handler.
type Store interface {
	// Get returns the session's context without extending its TTL. Returns
	// ErrNotFound if absent or expired.
	Get(ctx context.Context, sessionID string) (*model.SessionContext, error)

	// Set writes the context and (re)starts its TTL window.
	Set(ctx context.Context, sc *model.SessionContext) error

	// Delete removes a session. Idempotent: deleting an absent session is
	// not an error.
	Delete(ctx context.Context, sessionID string) error
}

// KeyFor returns the backing-store key for a session id.
func KeyFor(sessionID string) string {
	return "aesop:session:" + sessionID
}
