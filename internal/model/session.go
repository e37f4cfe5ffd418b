package model

import "time"

// Intent is the output label of the four-stage intent classifier (C6).
type Intent string

const (
	IntentChat             Intent = "chat"
	IntentResearch         Intent = "research"
	IntentFollowupResearch Intent = "followup_research"
	IntentUtility          Intent = "utility"
)

// Route is the pipeline chosen by the router (C7) for a research intent.
type Route string

const (
	RouteFullGraph Route = "A"
	RouteAugmented Route = "B"
	RouteContextQA Route = "C"
	// RouteChat and RouteUtility are reported in the response's route_taken
	// field for non-research intents; they never pass through the router.
	RouteChat    Route = "chat"
	RouteUtility Route = "utility"
)

// CriticDecision is the CRAG loop's global sufficiency verdict.
type CriticDecision string

const (
	CriticDecisionSufficient   CriticDecision = "sufficient"
	CriticDecisionRetrieveMore CriticDecision = "retrieve_more"
)

// SessionContext (C4) is the short-lived, per-session conversational state.
// Owned exclusively by the session store; mutated by the router and by any
// route that produces output. Expires after 60 minutes of inactivity.
type SessionContext struct {
	SessionID        string        `json:"sessionId"`
	OriginalQuery    string        `json:"originalQuery"`
	QueryEmbedding   []float32     `json:"queryEmbedding,omitempty"`
	RetrievedPapers  []CachedPaper `json:"retrievedPapers"`
	SynthesisSummary string        `json:"synthesisSummary"`
	TurnCount        int           `json:"turnCount"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// SessionTTL is the sliding expiry window for a SessionContext (§3, §6).
const SessionTTL = 60 * time.Minute
