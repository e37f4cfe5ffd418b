package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aesop-rag/aesop/internal/model"
	"github.com/aesop-rag/aesop/internal/sessionstore"
)

// routingLLM dispatches a canned response by inspecting the system prompt,
// so Scout's expansion call and Critic's grading call (sharing one Client
// in the orchestrator) can return distinct, purpose-fit responses.
type routingLLM struct {
	expansionResponse string
	gradeResponse     string
	fallback          string
}

func (r *routingLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	switch {
	case strings.Contains(systemPrompt, "query variants"):
		return r.expansionResponse, nil
	case strings.Contains(systemPrompt, "grading"):
		return r.gradeResponse, nil
	default:
		return r.fallback, nil
	}
}

func newTestOrchestrator(llm *fakeLLM, pm *fakePubMed) *Orchestrator {
	expandLLM := &routingLLM{
		expansionResponse: `["` + firstSearchQuery(pm) + `"]`,
		gradeResponse:     llm.response,
		fallback:          llm.response,
	}
	intent := NewIntentClassifier(llm)
	router := NewRouter()
	scout := NewScout(expandLLM, pm)
	critic := NewCritic(expandLLM, nil, nil, testThresholds())
	synth := NewSynthesizer(llm)
	ctxQA := NewContextQA(llm)
	chatUtil := NewChatUtility(llm)
	sessions := sessionstore.NewMemory(time.Hour)

	return NewOrchestrator(intent, router, scout, critic, synth, ctxQA, chatUtil, sessions, nil, 3)
}

// firstSearchQuery returns an arbitrary key from pm's search results, so the
// fake expansion response maps back onto a query the fake PubMed client
// actually knows how to answer.
func firstSearchQuery(pm *fakePubMed) string {
	for q := range pm.searchResults {
		return q
	}
	return ""
}

func TestOrchestrator_ChatIntent_NeverCreatesSession(t *testing.T) {
	llm := &fakeLLM{response: "hi there"}
	o := newTestOrchestrator(llm, &fakePubMed{})

	resp := o.Handle(context.Background(), "Hello!", "")
	if resp.Intent != model.IntentChat {
		t.Fatalf("expected chat intent, got %s", resp.Intent)
	}
	if resp.RouteTaken != model.RouteChat {
		t.Fatalf("expected route chat, got %s", resp.RouteTaken)
	}
	if resp.SessionID != "" {
		t.Fatalf("expected no session created for chat, got %q", resp.SessionID)
	}
}

func TestOrchestrator_ResearchIntent_RouteA_CreatesSessionAndSynthesizes(t *testing.T) {
	llm := &fakeLLM{
		response: `{"relevance_score":0.9,"methodology_score":0.9,"sample_size_adequate":true,"study_type":"randomized controlled trial","recommendation":"KEEP"}`,
	}
	pm := &fakePubMed{
		searchResults: map[string][]string{"what are the treatments for diabetes?": {"1", "2"}},
		fetchResults:  []model.Paper{{PMID: "1", Title: "A", Abstract: "x"}, {PMID: "2", Title: "B", Abstract: "y"}},
	}
	o := newTestOrchestrator(llm, pm)

	resp := o.Handle(context.Background(), "what are the treatments for diabetes?", "")
	if resp.Intent != model.IntentResearch {
		t.Fatalf("expected research intent, got %s", resp.Intent)
	}
	if resp.RouteTaken != model.RouteFullGraph {
		t.Fatalf("expected route A, got %s", resp.RouteTaken)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session id to be minted")
	}
	if resp.CriticDecision != string(model.CriticDecisionSufficient) {
		t.Fatalf("expected sufficient decision, got %s", resp.CriticDecision)
	}
	if resp.PapersCount != 2 {
		t.Fatalf("expected 2 papers, got %d", resp.PapersCount)
	}
}

func TestOrchestrator_RouteA_ForcesSufficientAtIterationCap(t *testing.T) {
	llm := &fakeLLM{
		response: `{"relevance_score":0.1,"methodology_score":0.1,"sample_size_adequate":false,"study_type":"case study","recommendation":"DISCARD"}`,
	}
	pm := &fakePubMed{
		searchResults: map[string][]string{"what are the treatments for an obscure condition?": {"1"}},
		fetchResults:  []model.Paper{{PMID: "1", Title: "A", Abstract: "x"}},
	}
	o := newTestOrchestrator(llm, pm)

	resp := o.Handle(context.Background(), "what are the treatments for an obscure condition?", "")
	if resp.CriticDecision != string(model.CriticDecisionSufficient) {
		t.Fatalf("expected forced sufficient at iteration cap, got %s", resp.CriticDecision)
	}
}

func TestOrchestrator_UtilityIntent_ReformatsSynthesisSummary(t *testing.T) {
	sessions := sessionstore.NewMemory(time.Hour)
	existing := &model.SessionContext{
		SessionID:        "s1",
		OriginalQuery:    "diabetes treatment",
		SynthesisSummary: "Long prose summary.",
	}
	if err := sessions.Set(context.Background(), existing); err != nil {
		t.Fatalf("setup: %v", err)
	}

	llm := &fakeLLM{response: "- bullet one"}
	o := NewOrchestrator(
		NewIntentClassifier(llm),
		NewRouter(),
		NewScout(llm, &fakePubMed{}),
		NewCritic(llm, nil, nil, testThresholds()),
		NewSynthesizer(llm),
		NewContextQA(llm),
		NewChatUtility(llm),
		sessions,
		nil,
		3,
	)

	resp := o.Handle(context.Background(), "make it shorter please, bulletize", "s1")
	if resp.Intent != model.IntentUtility {
		t.Fatalf("expected utility intent, got %s", resp.Intent)
	}
	if resp.Response != "- bullet one" {
		t.Fatalf("expected reformatted response, got %q", resp.Response)
	}

	saved, err := sessions.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("expected session to be refreshed: %v", err)
	}
	if saved.SynthesisSummary != "- bullet one" {
		t.Fatalf("expected synthesis summary updated, got %q", saved.SynthesisSummary)
	}
}

func TestMergeWithCache_NewGradeWinsOnConflict(t *testing.T) {
	existing := &model.SessionContext{
		RetrievedPapers: []model.CachedPaper{
			{PMID: "1", Title: "Old", QualityScore: 0.5, Recommendation: model.RecommendationKeep},
		},
	}
	newPapers := []model.Paper{{PMID: "1", Title: "New", Abstract: "updated"}}
	newGrades := []model.PaperGrade{{PMID: "1", RelevanceScore: 0.9, MethodologyScore: 0.9, Recommendation: model.RecommendationKeep}}

	grades, papers := mergeWithCache(existing, newPapers, newGrades)
	if len(grades) != 1 || len(papers) != 1 {
		t.Fatalf("expected 1 merged entry, got grades=%d papers=%d", len(grades), len(papers))
	}
	if grades[0].RelevanceScore != 0.9 {
		t.Fatalf("expected new grade to win, got %v", grades[0].RelevanceScore)
	}
	if papers[0].Title != "New" {
		t.Fatalf("expected new paper data to win, got %q", papers[0].Title)
	}
}

func TestMergeWithCache_UnionsDistinctPMIDs(t *testing.T) {
	existing := &model.SessionContext{
		RetrievedPapers: []model.CachedPaper{
			{PMID: "1", Title: "Cached", QualityScore: 0.8, Recommendation: model.RecommendationKeep},
		},
	}
	newPapers := []model.Paper{{PMID: "2", Title: "New"}}
	newGrades := []model.PaperGrade{{PMID: "2", Recommendation: model.RecommendationKeep}}

	grades, papers := mergeWithCache(existing, newPapers, newGrades)
	if len(grades) != 2 || len(papers) != 2 {
		t.Fatalf("expected union of 2 entries, got grades=%d papers=%d", len(grades), len(papers))
	}
}

func TestMergePapersByPMID_DedupesAcrossIterations(t *testing.T) {
	first := []model.Paper{{PMID: "1"}, {PMID: "2"}}
	second := []model.Paper{{PMID: "2"}, {PMID: "3"}}

	merged := mergePapersByPMID(first, second)
	if len(merged) != 3 {
		t.Fatalf("expected 3 unique papers, got %d", len(merged))
	}
}

func TestGradedFromGrades_ExcludesDiscards(t *testing.T) {
	papers := []model.Paper{{PMID: "1", Title: "A"}, {PMID: "2", Title: "B"}}
	grades := []model.PaperGrade{
		{PMID: "1", RelevanceScore: 0.8, MethodologyScore: 0.8, Recommendation: model.RecommendationKeep},
		{PMID: "2", Recommendation: model.RecommendationDiscard},
	}

	graded := gradedFromGrades(papers, grades)
	if len(graded) != 1 || graded[0].PMID != "1" {
		t.Fatalf("expected only the KEEP paper retained, got %v", graded)
	}
}

func TestBuildResponse_OmitsCriticFieldsForContextQARoute(t *testing.T) {
	o := &Orchestrator{}
	state := &model.OrchestratorState{
		Route:          model.RouteContextQA,
		CriticDecision: model.CriticDecisionSufficient,
		AvgQuality:     0.9,
	}
	resp := o.buildResponse(state)
	if resp.CriticDecision != "" {
		t.Fatalf("expected no critic_decision on context-qa route, got %q", resp.CriticDecision)
	}
}

func TestResearchQuery_PrefersSessionOriginalQuery(t *testing.T) {
	state := &model.OrchestratorState{InputMessage: "what about the sample sizes?"}
	existing := &model.SessionContext{OriginalQuery: "diabetes treatment efficacy"}

	q := researchQuery(state, existing)
	if q != "diabetes treatment efficacy" {
		t.Fatalf("expected original query reused, got %q", q)
	}
}

func TestCachedTitles_EmptyForNilSession(t *testing.T) {
	if titles := cachedTitles(nil); titles != nil {
		t.Fatalf("expected nil titles for nil session, got %v", titles)
	}
}

func TestOrchestrator_ResponseIncludesTruthfulRouteAndIntent(t *testing.T) {
	llm := &fakeLLM{response: "chit chat"}
	o := newTestOrchestrator(llm, &fakePubMed{})

	resp := o.Handle(context.Background(), "thanks!", "")
	if !strings.Contains(resp.Response, "welcome") {
		t.Fatalf("expected canned thanks response, got %q", resp.Response)
	}
	if resp.RouteTaken != model.RouteChat {
		t.Fatalf("expected route_taken %q, got %q", model.RouteChat, resp.RouteTaken)
	}
	if resp.Intent != model.IntentChat {
		t.Fatalf("expected intent %q, got %q", model.IntentChat, resp.Intent)
	}
}
