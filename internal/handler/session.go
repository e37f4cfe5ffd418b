package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aesop-rag/aesop/internal/model"
	"github.com/aesop-rag/aesop/internal/sessionstore"
	"github.com/go-chi/chi/v5"
)

// SessionStore is the contract the session handlers depend on.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*model.SessionContext, error)
	Delete(ctx context.Context, sessionID string) error
}

// GetSession returns a handler for GET /session/{id}: projects the stored
// SessionContext, or 404 if absent or expired.
func GetSession(store SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sc, err := store.Get(r.Context(), id)
		if errors.Is(err, sessionstore.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to load session")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(sc)
	}
}

// DeleteSession returns a handler for DELETE /session/{id}: idempotent
// removal, always reports success.
func DeleteSession(store SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Delete(r.Context(), id); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":     "deleted",
			"session_id": id,
		})
	}
}
