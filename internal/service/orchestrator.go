package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/model"
	"github.com/aesop-rag/aesop/internal/orchestrator"
	"github.com/aesop-rag/aesop/internal/sessionstore"
	"github.com/google/uuid"
)

// Orchestrator implements C13: the state machine that drives a single
// /chat request from intent classification through to a final response,
// enforcing the CRAG iteration cap centrally.
type Orchestrator struct {
	intent      *IntentClassifier
	router      *Router
	scout       *Scout
	critic      *Critic
	synthesizer *Synthesizer
	contextQA   *ContextQA
	chatUtility *ChatUtility
	sessions    sessionstore.Store
	embedder    llmclient.Embedder
	locks       *orchestrator.KeyedMutex

	maxIterations int
}

func NewOrchestrator(
	intent *IntentClassifier,
	router *Router,
	scout *Scout,
	critic *Critic,
	synthesizer *Synthesizer,
	contextQA *ContextQA,
	chatUtility *ChatUtility,
	sessions sessionstore.Store,
	embedder llmclient.Embedder,
	maxIterations int,
) *Orchestrator {
	return &Orchestrator{
		intent:        intent,
		router:        router,
		scout:         scout,
		critic:        critic,
		synthesizer:   synthesizer,
		contextQA:     contextQA,
		chatUtility:   chatUtility,
		sessions:      sessions,
		embedder:      embedder,
		locks:         &orchestrator.KeyedMutex{},
		maxIterations: maxIterations,
	}
}

// Handle runs one request to completion and returns the normative response
// body. sessionID may be empty (no prior session); a new one is minted
// whenever a research/followup/utility branch produces output worth
// caching.
func (o *Orchestrator) Handle(ctx context.Context, message, sessionID string) model.ChatResponse {
	lockKey := sessionID
	if lockKey == "" {
		lockKey = "new:" + message
	}
	o.locks.Lock(lockKey)
	defer o.locks.Unlock(lockKey)

	state := &model.OrchestratorState{InputMessage: message, SessionID: sessionID}

	existing, hasSession := o.loadSession(ctx, sessionID)
	state.SessionContext = existing

	hasSynthesis := hasSession && existing.SynthesisSummary != ""
	ir := o.intent.Classify(ctx, message, hasSession, hasSynthesis)
	state.Intent = ir.Intent
	state.IntentConfidence = ir.Confidence

	switch ir.Intent {
	case model.IntentChat:
		state.Route = model.RouteChat
		state.FinalResponse = o.chatUtility.Chat(ctx, message)
	case model.IntentUtility:
		state.Route = model.RouteUtility
		state.FinalResponse = o.chatUtility.Reformat(ctx, message, existing.SynthesisSummary)
		o.saveSession(ctx, state, existing)
	default: // research, followup_research
		titles := cachedTitles(existing)
		state.Route = o.router.Route(ir.Intent, message, hasSession, titles)
		o.runResearch(ctx, state, existing)
		o.saveSession(ctx, state, existing)
	}

	return o.buildResponse(state)
}

// runResearch drives Route A/B/C to a final synthesis or context answer.
func (o *Orchestrator) runResearch(ctx context.Context, state *model.OrchestratorState, existing *model.SessionContext) {
	query := researchQuery(state, existing)

	switch state.Route {
	case model.RouteContextQA:
		papers := cachedPapers(existing)
		state.FinalResponse = o.contextQA.Answer(ctx, state.InputMessage, papers)
		return

	case model.RouteAugmented:
		contextTitles := cachedTitles(existing)
		newPapers := o.scout.Find(ctx, query, contextTitles)
		newGrades := o.gradeWithBoost(ctx, newPapers, query, 0)

		grades, papers := mergeWithCache(existing, newPapers, newGrades)
		state.Papers = papers
		state.Grades = grades
		decision, avg := o.critic.GlobalDecision(grades, 0, 0)
		state.CriticDecision = decision
		state.AvgQuality = avg
		state.FinalResponse = o.synthesizer.Synthesize(ctx, query, gradedFromGrades(papers, grades))
		o.writeAcceptedMemory(ctx, query, papers, grades, 0)
		return

	default: // RouteFullGraph
		o.runCRAGLoop(ctx, state, query)
	}
}

// runCRAGLoop implements Route A: SCOUT -> CRITIC -> (sufficient? SYNTH :
// SCOUT(iter+1)). The iteration cap is enforced here, not inside Critic.
func (o *Orchestrator) runCRAGLoop(ctx context.Context, state *model.OrchestratorState, query string) {
	var papers []model.Paper
	var grades []model.PaperGrade
	var decision model.CriticDecision
	var avgQuality float64

	for iteration := 0; ; iteration++ {
		newPapers := o.scout.Find(ctx, query, nil)
		papers = mergePapersByPMID(papers, newPapers)

		memoryBoost := o.critic.FetchMemoryBias(ctx, query)
		grades = o.critic.GradeAll(ctx, papers, query)
		decision, avgQuality = o.critic.GlobalDecision(grades, iteration, memoryBoost)

		state.Iteration = iteration
		state.MemoryBoost = memoryBoost

		if decision == model.CriticDecisionSufficient || iteration >= o.maxIterations-1 {
			if decision != model.CriticDecisionSufficient {
				slog.Info("orchestrator: forcing sufficient at iteration cap", "iteration", iteration, "avg_quality", avgQuality)
				decision = model.CriticDecisionSufficient
			}
			break
		}
	}

	state.Papers = papers
	state.Grades = grades
	state.CriticDecision = decision
	state.AvgQuality = avgQuality

	state.FinalResponse = o.synthesizer.Synthesize(ctx, query, gradedFromGrades(papers, grades))
	o.writeAcceptedMemory(ctx, query, papers, grades, state.Iteration)
}

// gradeWithBoost is a small seam kept for route B's single-pass grading;
// Route B does not loop, so it grades only and no memory boost is fetched.
func (o *Orchestrator) gradeWithBoost(ctx context.Context, papers []model.Paper, query string, iteration int) []model.PaperGrade {
	if len(papers) == 0 {
		return nil
	}
	return o.critic.GradeAll(ctx, papers, query)
}

func (o *Orchestrator) writeAcceptedMemory(ctx context.Context, query string, papers []model.Paper, grades []model.PaperGrade, iteration int) {
	var embedding []float32
	if o.embedder != nil {
		vec, err := o.embedder.EmbedQuery(ctx, query)
		if err != nil {
			slog.Warn("orchestrator: failed to embed query for acceptance memory write", "error", err)
		} else {
			embedding = vec
		}
	}
	o.critic.WriteAccepted(ctx, query, embedding, papers, grades, iteration)
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) (*model.SessionContext, bool) {
	if sessionID == "" || o.sessions == nil {
		return nil, false
	}
	sc, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false
	}
	return sc, true
}

// saveSession writes/refreshes the SessionContext whenever the branch
// produced a new synthesis or mutated papers. Pure chat never reaches
// here.
func (o *Orchestrator) saveSession(ctx context.Context, state *model.OrchestratorState, existing *model.SessionContext) {
	if o.sessions == nil {
		return
	}

	sc := existing
	if sc == nil {
		sc = &model.SessionContext{
			SessionID:     newSessionID(state.SessionID),
			OriginalQuery: state.InputMessage,
			CreatedAt:     time.Now(),
		}
	}
	state.SessionID = sc.SessionID

	if state.FinalResponse != "" && state.Route != model.RouteContextQA {
		sc.SynthesisSummary = state.FinalResponse
	}
	if len(state.Papers) > 0 {
		sc.RetrievedPapers = cachedPapersFrom(state.Papers, state.Grades)
	}
	sc.TurnCount++
	sc.UpdatedAt = time.Now()

	if err := o.sessions.Set(ctx, sc); err != nil {
		slog.Warn("orchestrator: failed to persist session, degrading to stateless turn", "error", err)
		return
	}
	state.SessionContext = sc
}

func (o *Orchestrator) buildResponse(state *model.OrchestratorState) model.ChatResponse {
	resp := model.ChatResponse{
		Response:         state.FinalResponse,
		SessionID:        state.SessionID,
		RouteTaken:       state.Route,
		Intent:           state.Intent,
		IntentConfidence: state.IntentConfidence,
		PapersCount:      len(state.Papers),
	}
	if state.Route == model.RouteFullGraph || state.Route == model.RouteAugmented {
		resp.CriticDecision = string(state.CriticDecision)
		resp.AvgQuality = state.AvgQuality
	}
	return resp
}

func newSessionID(existing string) string {
	if existing != "" {
		return existing
	}
	return uuid.NewString()
}

func researchQuery(state *model.OrchestratorState, existing *model.SessionContext) string {
	if existing != nil && existing.OriginalQuery != "" {
		return existing.OriginalQuery
	}
	return state.InputMessage
}

func cachedTitles(sc *model.SessionContext) []string {
	if sc == nil {
		return nil
	}
	titles := make([]string, 0, len(sc.RetrievedPapers))
	for _, p := range sc.RetrievedPapers {
		titles = append(titles, p.Title)
	}
	return titles
}

func cachedPapers(sc *model.SessionContext) []model.CachedPaper {
	if sc == nil {
		return nil
	}
	return sc.RetrievedPapers
}

// mergePapersByPMID unions two paper lists, keeping the first occurrence of
// each pmid (used to accumulate Route A's retrieved set across iterations).
func mergePapersByPMID(existing, incoming []model.Paper) []model.Paper {
	seen := make(map[string]struct{}, len(existing))
	merged := make([]model.Paper, 0, len(existing)+len(incoming))
	for _, p := range existing {
		seen[p.PMID] = struct{}{}
		merged = append(merged, p)
	}
	for _, p := range incoming {
		if _, ok := seen[p.PMID]; ok {
			continue
		}
		seen[p.PMID] = struct{}{}
		merged = append(merged, p)
	}
	return merged
}

// mergeWithCache implements Route B's MERGE_WITH_CACHE: union cached KEEP
// papers and newly scouted (and newly graded) papers by pmid. New grades
// win on conflict, per the resolved Open Question (§9).
func mergeWithCache(existing *model.SessionContext, newPapers []model.Paper, newGrades []model.PaperGrade) ([]model.PaperGrade, []model.Paper) {
	gradeByPMID := make(map[string]model.PaperGrade)
	paperByPMID := make(map[string]model.Paper)
	order := make([]string, 0)

	if existing != nil {
		for _, cp := range existing.RetrievedPapers {
			if cp.Recommendation != model.RecommendationKeep {
				continue
			}
			gradeByPMID[cp.PMID] = model.PaperGrade{
				PMID:             cp.PMID,
				RelevanceScore:   cp.QualityScore,
				MethodologyScore: cp.QualityScore,
				Recommendation:   cp.Recommendation,
			}
			paperByPMID[cp.PMID] = model.Paper{
				PMID:            cp.PMID,
				Title:           cp.Title,
				Abstract:        cp.Abstract,
				PublicationYear: cp.PublicationYear,
				Journal:         cp.Journal,
			}
			order = append(order, cp.PMID)
		}
	}

	newPaperByPMID := make(map[string]model.Paper, len(newPapers))
	for _, p := range newPapers {
		newPaperByPMID[p.PMID] = p
	}

	for _, g := range newGrades {
		if _, ok := gradeByPMID[g.PMID]; !ok {
			order = append(order, g.PMID)
		}
		gradeByPMID[g.PMID] = g // new grade wins
		if p, ok := newPaperByPMID[g.PMID]; ok {
			paperByPMID[g.PMID] = p
		}
	}

	grades := make([]model.PaperGrade, 0, len(order))
	papers := make([]model.Paper, 0, len(order))
	for _, pmid := range order {
		grades = append(grades, gradeByPMID[pmid])
		papers = append(papers, paperByPMID[pmid])
	}
	return grades, papers
}

func gradedFromGrades(papers []model.Paper, grades []model.PaperGrade) []model.GradedPaper {
	abstractByPMID := make(map[string]model.Paper, len(papers))
	for _, p := range papers {
		abstractByPMID[p.PMID] = p
	}

	out := make([]model.GradedPaper, 0, len(grades))
	for _, g := range grades {
		if g.Recommendation == model.RecommendationDiscard {
			continue
		}
		p := abstractByPMID[g.PMID]
		out = append(out, model.GradedPaper{
			PMID:         g.PMID,
			Title:        p.Title,
			Abstract:     p.Abstract,
			QualityScore: model.QualityScore(g),
		})
	}
	return out
}

func cachedPapersFrom(papers []model.Paper, grades []model.PaperGrade) []model.CachedPaper {
	gradeByPMID := make(map[string]model.PaperGrade, len(grades))
	for _, g := range grades {
		gradeByPMID[g.PMID] = g
	}

	out := make([]model.CachedPaper, 0, len(papers))
	for _, p := range papers {
		g, ok := gradeByPMID[p.PMID]
		if !ok || g.Recommendation == model.RecommendationDiscard {
			continue
		}
		out = append(out, model.CachedPaper{
			PMID:            p.PMID,
			Title:           p.Title,
			Abstract:        p.Abstract,
			PublicationYear: p.PublicationYear,
			Journal:         p.Journal,
			QualityScore:    model.QualityScore(g),
			Recommendation:  g.Recommendation,
		})
	}
	return out
}
