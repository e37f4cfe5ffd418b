package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aesop-rag/aesop/internal/model"
)

// ChatOrchestrator is the contract the /chat handler depends on.
type ChatOrchestrator interface {
	Handle(ctx context.Context, message, sessionID string) model.ChatResponse
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Chat returns a handler for POST /chat: classifies intent, routes through
// the CRAG loop, context Q&A, or chat/utility handling as appropriate, and
// returns the final response.
func Chat(orch ChatOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Message == "" {
			writeJSONError(w, http.StatusBadRequest, "message is required")
			return
		}

		resp := orch.Handle(r.Context(), req.Message, req.SessionID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("chat handler: encode response", "error", err)
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
