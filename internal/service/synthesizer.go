package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/model"
)

const highQualityFloor = 0.7

const synthesizerPrompt = `You write a structured evidence review from graded biomedical papers. Produce
markdown with exactly these H2 sections in order: Background, High-Quality
Evidence, Lower-Quality Evidence, Limitations, Conclusion. Cite papers as
"PMID <number>" inline. Do not invent findings not present in the provided
abstracts.`

var pmidCitationPattern = regexp.MustCompile(`PMID\s+(\d+)`)

// Synthesizer implements C10: produces the structured markdown review from
// graded papers.
type Synthesizer struct {
	llm llmclient.Client
}

func NewSynthesizer(llm llmclient.Client) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Synthesize builds the review from non-DISCARD graded papers. graded must
// already exclude DISCARD recommendations.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, graded []model.GradedPaper) string {
	if len(graded) == 0 {
		return noEvidenceReview()
	}

	var high, low []model.GradedPaper
	for _, g := range graded {
		if g.QualityScore >= highQualityFloor {
			high = append(high, g)
		} else {
			low = append(low, g)
		}
	}

	userPrompt := buildSynthesisPrompt(query, high, low)

	raw, err := s.llm.Complete(ctx, synthesizerPrompt, userPrompt)
	if err != nil {
		slog.Warn("synthesizer: llm call failed, emitting degraded review", "error", err)
		return degradedReview(graded)
	}

	validPMIDs := make(map[string]struct{}, len(graded))
	for _, g := range graded {
		validPMIDs[g.PMID] = struct{}{}
	}

	return stripUnknownCitations(raw, validPMIDs)
}

func buildSynthesisPrompt(query string, high, low []model.GradedPaper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\n", query)
	b.WriteString("High-quality papers:\n")
	for _, g := range high {
		fmt.Fprintf(&b, "- PMID %s: %s\n  %s\n", g.PMID, g.Title, g.Abstract)
	}
	b.WriteString("\nLower-quality papers:\n")
	for _, g := range low {
		fmt.Fprintf(&b, "- PMID %s: %s\n  %s\n", g.PMID, g.Title, g.Abstract)
	}
	return b.String()
}

// stripUnknownCitations validates every "PMID N" citation against the
// paper set the LLM was actually given, removing citations it was not
// trusted to invent (§4.5).
func stripUnknownCitations(markdown string, validPMIDs map[string]struct{}) string {
	return pmidCitationPattern.ReplaceAllStringFunc(markdown, func(match string) string {
		sub := pmidCitationPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if _, ok := validPMIDs[sub[1]]; ok {
			return match
		}
		return ""
	})
}

func noEvidenceReview() string {
	return "## Background\n\nNo relevant evidence was retrieved for this query.\n\n" +
		"## High-Quality Evidence\n\nNone found.\n\n" +
		"## Lower-Quality Evidence\n\nNone found.\n\n" +
		"## Limitations\n\nThe literature search returned no papers meeting minimum relevance or methodology thresholds.\n\n" +
		"## Conclusion\n\nNo evidence-based conclusion can be drawn at this time.\n"
}

// degradedReview is the fallback used when the synthesis LLM call itself
// fails after retries — a minimal but truthful review listing the papers
// that were retained.
func degradedReview(graded []model.GradedPaper) string {
	var b strings.Builder
	b.WriteString("## Background\n\nEvidence synthesis is temporarily degraded; showing retained papers without narrative synthesis.\n\n")
	b.WriteString("## High-Quality Evidence\n\n")
	for _, g := range graded {
		if g.QualityScore >= highQualityFloor {
			fmt.Fprintf(&b, "- PMID %s: %s (quality %.2f)\n", g.PMID, g.Title, g.QualityScore)
		}
	}
	b.WriteString("\n## Lower-Quality Evidence\n\n")
	for _, g := range graded {
		if g.QualityScore < highQualityFloor {
			fmt.Fprintf(&b, "- PMID %s: %s (quality %.2f)\n", g.PMID, g.Title, g.QualityScore)
		}
	}
	b.WriteString("\n## Limitations\n\nNarrative synthesis could not be generated.\n\n## Conclusion\n\nSee retained papers above.\n")
	return b.String()
}
