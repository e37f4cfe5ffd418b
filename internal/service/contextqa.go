package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/model"
)

const maxContextPapers = 10

const contextQAPrompt = `Answer the user's question using only the provided cached papers. Do not
retrieve new evidence or invent findings beyond what the abstracts support.
Cite papers as "PMID <number>".`

// ContextQA implements C11: answers from cached papers without retrieval.
type ContextQA struct {
	llm llmclient.Client
}

func NewContextQA(llm llmclient.Client) *ContextQA {
	return &ContextQA{llm: llm}
}

// Answer selects up to maxContextPapers cached papers (highest quality
// first) and answers the question from that context alone.
func (c *ContextQA) Answer(ctx context.Context, question string, papers []model.CachedPaper) string {
	selected := make([]model.CachedPaper, len(papers))
	copy(selected, papers)
	sort.Slice(selected, func(i, j int) bool { return selected[i].QualityScore > selected[j].QualityScore })
	if len(selected) > maxContextPapers {
		selected = selected[:maxContextPapers]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nCached papers:\n", question)
	for _, p := range selected {
		fmt.Fprintf(&b, "- PMID %s: %s\n  %s\n", p.PMID, p.Title, p.Abstract)
	}

	answer, err := c.llm.Complete(ctx, contextQAPrompt, b.String())
	if err != nil {
		slog.Warn("contextqa: llm call failed", "error", err)
		return "The cached evidence could not be consulted right now. Please try again."
	}
	return answer
}
