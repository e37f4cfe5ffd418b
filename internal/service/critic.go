package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/model"
	"github.com/aesop-rag/aesop/internal/repository"
)

// studyTypePriors is the authoritative floor on methodology_score keyed by
// normalized study design (§4.4.1 point 3). "rct" is an alias for
// "randomized controlled trial"; the canonical storage form is the long
// spelling.
var studyTypePriors = map[string]float64{
	"meta-analysis":                0.85,
	"systematic review":            0.80,
	"randomized controlled trial":  0.70,
	"rct":                          0.70,
	"cohort study":                 0.55,
	"case-control study":           0.50,
	"cross-sectional study":        0.45,
	"case series":                  0.30,
	"case study":                   0.25,
	"expert opinion":               0.20,
}

func canonicalStudyType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "rct" {
		return "randomized controlled trial"
	}
	if _, known := studyTypePriors[s]; known {
		return s
	}
	return ""
}

// CriticThresholds holds the CRAG tunables from config (§4.4).
type CriticThresholds struct {
	MinRelevanceToKeep         float64
	MinMethodologyToKeep       float64
	MinAvgQualityForSufficient float64
	MinConfidenceFloor         float64
	ConfidenceDecayRate        float64
	MaxDiscardRatio            float64
	MaxMemoryBoost             float64
	DecayLambda                float64
	MaxCRAGIterations          int
	InterCallDelay             time.Duration
	MinAcceptanceQuality       float64
}

// MemoryStore is the subset of repository.AcceptanceMemory the Critic needs,
// narrowed for testability.
type MemoryStore interface {
	FindByHash(ctx context.Context, query string) ([]model.AcceptanceRecord, error)
	FindBySimilarity(ctx context.Context, queryEmbedding []float32) ([]repository.SimilarityMatch, error)
	Insert(ctx context.Context, r model.AcceptanceRecord) error
}

// Critic implements C9: per-paper grading, the CRAG global decision, and
// acceptance-memory read/write.
type Critic struct {
	llm        llmclient.Client
	embedder   llmclient.Embedder
	memory     MemoryStore
	thresholds CriticThresholds
	sleep      func(time.Duration)
}

func NewCritic(llm llmclient.Client, embedder llmclient.Embedder, memory MemoryStore, thresholds CriticThresholds) *Critic {
	return &Critic{
		llm:        llm,
		embedder:   embedder,
		memory:     memory,
		thresholds: thresholds,
		sleep:      time.Sleep,
	}
}

const criticGradingPrompt = `You are a rigorous evidence-grading assistant. Given a research question and
a paper's title and abstract, score the paper's relevance to the question
and the rigor of its methodology. Reply with strict JSON only:
{"relevance_score": 0.0-1.0, "methodology_score": 0.0-1.0, "sample_size_adequate": true|false, "study_type": "...", "recommendation": "KEEP"|"DISCARD"|"NEEDS_MORE"}`

type llmGradeResponse struct {
	RelevanceScore     float64 `json:"relevance_score"`
	MethodologyScore   float64 `json:"methodology_score"`
	SampleSizeAdequate bool    `json:"sample_size_adequate"`
	StudyType          string  `json:"study_type"`
	Recommendation     string  `json:"recommendation"`
}

// GradeAll grades every paper sequentially with the mandated inter-call
// delay between evaluations (§4.4.1 point 5, §5).
func (c *Critic) GradeAll(ctx context.Context, papers []model.Paper, query string) []model.PaperGrade {
	grades := make([]model.PaperGrade, len(papers))
	for i, p := range papers {
		if i > 0 && c.thresholds.InterCallDelay > 0 {
			c.sleep(c.thresholds.InterCallDelay)
		}
		grades[i] = c.gradeOne(ctx, p, query)
	}
	return grades
}

func (c *Critic) gradeOne(ctx context.Context, paper model.Paper, query string) model.PaperGrade {
	userPrompt := fmt.Sprintf("Research question: %s\n\nTitle: %s\n\nAbstract: %s", query, paper.Title, paper.Abstract)

	raw, err := c.llm.Complete(ctx, criticGradingPrompt, userPrompt)
	if err != nil {
		slog.Warn("critic: grading call failed after retries, discarding paper", "pmid", paper.PMID, "error", err)
		return discardZeroGrade(paper.PMID)
	}

	candidate := extractJSONObject(raw)
	if candidate == "" {
		slog.Warn("critic: grading response unparseable, discarding paper", "pmid", paper.PMID)
		return discardZeroGrade(paper.PMID)
	}

	var parsed llmGradeResponse
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		slog.Warn("critic: grading response malformed, discarding paper", "pmid", paper.PMID, "error", err)
		return discardZeroGrade(paper.PMID)
	}

	return c.enforce(model.PaperGrade{
		PMID:               paper.PMID,
		RelevanceScore:     parsed.RelevanceScore,
		MethodologyScore:   parsed.MethodologyScore,
		SampleSizeAdequate: parsed.SampleSizeAdequate,
		StudyType:          parsed.StudyType,
		Recommendation:     model.Recommendation(strings.ToUpper(strings.TrimSpace(parsed.Recommendation))),
	})
}

func discardZeroGrade(pmid string) model.PaperGrade {
	return model.PaperGrade{
		PMID:           pmid,
		Recommendation: model.RecommendationDiscard,
	}
}

// enforce applies the non-negotiable post-LLM score rules (§4.4.1).
func (c *Critic) enforce(g model.PaperGrade) model.PaperGrade {
	g.RelevanceScore = clamp01(g.RelevanceScore)
	g.MethodologyScore = clamp01(g.MethodologyScore)

	g.StudyType = canonicalStudyType(g.StudyType)
	if g.StudyType != "" {
		if prior, ok := studyTypePriors[g.StudyType]; ok && prior > g.MethodologyScore {
			g.MethodologyScore = prior
		}
	}

	switch g.Recommendation {
	case model.RecommendationKeep, model.RecommendationDiscard, model.RecommendationNeedsMore:
	default:
		g.Recommendation = model.RecommendationNeedsMore
	}

	if g.RelevanceScore < c.thresholds.MinRelevanceToKeep || g.MethodologyScore < c.thresholds.MinMethodologyToKeep {
		g.Recommendation = model.RecommendationDiscard
	}

	return g
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GlobalDecision implements the CRAG decision table (§4.4.2). iteration is
// 0-based (0 on the first pass). The iteration cap is enforced by the
// orchestrator, not here.
func (c *Critic) GlobalDecision(grades []model.PaperGrade, iteration int, memoryBoost float64) (model.CriticDecision, float64) {
	n := len(grades)
	if n == 0 {
		threshold := c.effectiveThreshold(iteration, memoryBoost)
		if 0 >= threshold {
			return model.CriticDecisionSufficient, 0
		}
		return model.CriticDecisionRetrieveMore, 0
	}

	var keep, discard int
	var qualitySum float64
	var qualityCount int
	for _, g := range grades {
		switch g.Recommendation {
		case model.RecommendationKeep:
			keep++
		case model.RecommendationDiscard:
			discard++
		}
		if g.Recommendation != model.RecommendationDiscard {
			qualitySum += (g.RelevanceScore + g.MethodologyScore) / 2
			qualityCount++
		}
	}

	keepRatio := float64(keep) / float64(n)
	discardRatio := float64(discard) / float64(n)

	var avgQuality float64
	if qualityCount > 0 {
		avgQuality = qualitySum / float64(qualityCount)
	}

	threshold := c.effectiveThreshold(iteration, memoryBoost)

	switch {
	case keepRatio >= 0.40:
		return model.CriticDecisionSufficient, avgQuality
	case discardRatio >= c.thresholds.MaxDiscardRatio:
		return model.CriticDecisionRetrieveMore, avgQuality
	case avgQuality >= threshold:
		return model.CriticDecisionSufficient, avgQuality
	default:
		return model.CriticDecisionRetrieveMore, avgQuality
	}
}

func (c *Critic) effectiveThreshold(iteration int, memoryBoost float64) float64 {
	t := c.thresholds.MinAvgQualityForSufficient - float64(iteration)*c.thresholds.ConfidenceDecayRate - memoryBoost
	if t < c.thresholds.MinConfidenceFloor {
		return c.thresholds.MinConfidenceFloor
	}
	return t
}

// FetchMemoryBias implements the C5 read path (§4.4.3). Never returns an
// error: any storage failure degrades to a bias of 0.
func (c *Critic) FetchMemoryBias(ctx context.Context, query string) float64 {
	if c.memory == nil {
		return 0
	}

	records, err := c.memory.FindByHash(ctx, query)
	if err == nil && len(records) > 0 {
		return c.biasFromRecords(recordsWithSimilarity(records, 1.0))
	}
	if err != nil {
		slog.Warn("critic: acceptance memory hash lookup failed, bias=0", "error", err)
		return 0
	}

	if c.embedder == nil {
		return 0
	}
	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("critic: failed to embed query for memory lookup, bias=0", "error", err)
		return 0
	}

	matches, err := c.memory.FindBySimilarity(ctx, vec)
	if err != nil {
		slog.Warn("critic: acceptance memory similarity lookup failed, bias=0", "error", err)
		return 0
	}
	if len(matches) == 0 {
		return 0
	}

	weighted := make([]weightedRecord, 0, len(matches))
	for _, m := range matches {
		weighted = append(weighted, weightedRecord{record: m.Record, similarity: m.Similarity})
	}
	return c.biasFromWeighted(weighted)
}

type weightedRecord struct {
	record     model.AcceptanceRecord
	similarity float64
}

func recordsWithSimilarity(records []model.AcceptanceRecord, similarity float64) []weightedRecord {
	out := make([]weightedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, weightedRecord{record: r, similarity: similarity})
	}
	return out
}

func (c *Critic) biasFromRecords(records []weightedRecord) float64 {
	return c.biasFromWeighted(records)
}

func (c *Critic) biasFromWeighted(records []weightedRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		ageDays := time.Since(r.record.AcceptedAt).Hours() / 24
		weight := r.similarity * math.Exp(-c.thresholds.DecayLambda*ageDays)
		sum += r.record.QualityScore * weight
	}
	bias := sum / float64(len(records))
	if bias < 0 {
		return 0
	}
	if bias > c.thresholds.MaxMemoryBoost {
		return c.thresholds.MaxMemoryBoost
	}
	return bias
}

// WriteAccepted persists every KEEP paper whose quality_score meets the
// acceptance floor (§4.4.3). Individual insert failures are logged and
// swallowed — never transactional, never blocks the response.
func (c *Critic) WriteAccepted(ctx context.Context, query string, queryEmbedding []float32, papers []model.Paper, grades []model.PaperGrade, iteration int) {
	if c.memory == nil {
		return
	}

	years := make(map[string]int, len(papers))
	for _, p := range papers {
		years[p.PMID] = p.PublicationYear
	}

	for _, g := range grades {
		if g.Recommendation != model.RecommendationKeep {
			continue
		}
		quality := model.QualityScore(g)
		if quality < c.thresholds.MinAcceptanceQuality {
			continue
		}

		record := model.AcceptanceRecord{
			ResearchQuery:    query,
			QueryEmbedding:   queryEmbedding,
			PMID:             g.PMID,
			StudyType:        g.StudyType,
			PublicationYear:  years[g.PMID],
			RelevanceScore:   g.RelevanceScore,
			MethodologyScore: g.MethodologyScore,
			QualityScore:     quality,
			Iteration:        iteration,
			AcceptedAt:       time.Now(),
		}

		if err := c.memory.Insert(ctx, record); err != nil {
			slog.Warn("critic: acceptance memory insert failed, skipping", "pmid", g.PMID, "error", err)
		}
	}
}
