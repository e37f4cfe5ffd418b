package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/model"
	"github.com/aesop-rag/aesop/internal/pubmedclient"
	"golang.org/x/sync/errgroup"
)

const (
	minQueryVariants = 3
	maxQueryVariants = 5
	perVariantLimit  = 10
	maxCachedTitles  = 10
)

const scoutExpansionPrompt = `You expand a biomedical research question into 3 to 5 diverse PubMed search
query variants that together maximize relevant literature coverage. Reply
with strict JSON: a JSON array of strings, nothing else.`

// PubMedSearcher is the subset of pubmedclient.Client that Scout needs,
// narrowed for testability.
type PubMedSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Fetch(ctx context.Context, pmids []string) []model.Paper
}

// Scout implements C8: query expansion, concurrent PubMed search, and
// batched abstract fetch. Never raises — total failure yields an empty
// paper list.
type Scout struct {
	llm    llmclient.Client
	pubmed PubMedSearcher
}

func NewScout(llm llmclient.Client, pubmed PubMedSearcher) *Scout {
	return &Scout{llm: llm, pubmed: pubmed}
}

// Find expands query, searches PubMed across variants, and fetches
// abstracts for the union of identifiers found. contextTitles (Route B
// only) are ignored by Search itself but steer expansion toward the
// session's prior focus.
func (s *Scout) Find(ctx context.Context, query string, contextTitles []string) []model.Paper {
	variants := s.expand(ctx, query, contextTitles)

	pmids := s.searchAll(ctx, variants)
	if len(pmids) == 0 {
		return nil
	}

	return s.pubmed.Fetch(ctx, pmids)
}

// expand issues a single LLM call for 3-5 query variants, parsing
// defensively: JSON array, balanced-substring extraction, or line-splitting.
// Falls back to [query] if nothing parses.
func (s *Scout) expand(ctx context.Context, query string, contextTitles []string) []string {
	userPrompt := query
	if len(contextTitles) > 0 {
		capped := contextTitles
		if len(capped) > maxCachedTitles {
			capped = capped[:maxCachedTitles]
		}
		userPrompt = fmt.Sprintf("%s\n\nRelated papers already under discussion:\n- %s", query, strings.Join(capped, "\n- "))
	}

	raw, err := s.llm.Complete(ctx, scoutExpansionPrompt, userPrompt)
	if err != nil {
		slog.Warn("scout: expansion llm call failed, using original query", "error", err)
		return []string{query}
	}

	variants := parseVariants(raw)
	if len(variants) == 0 {
		return []string{query}
	}
	if len(variants) > maxQueryVariants {
		variants = variants[:maxQueryVariants]
	}
	return variants
}

func parseVariants(raw string) []string {
	trimmed := strings.TrimSpace(raw)

	var arr []string
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil && len(arr) > 0 {
		return cleanVariants(arr)
	}

	if sub := extractJSONArray(trimmed); sub != "" {
		if err := json.Unmarshal([]byte(sub), &arr); err == nil && len(arr) > 0 {
			return cleanVariants(arr)
		}
	}

	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return cleanVariants(lines)
}

func cleanVariants(raw []string) []string {
	var out []string
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// extractJSONArray returns the first balanced [...] substring in s, or "".
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// searchAll runs Search concurrently across variants and merges identifiers
// preserving first-seen order across variants, then dedupes.
func (s *Scout) searchAll(ctx context.Context, variants []string) []string {
	results := make([][]string, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			ids, err := s.pubmed.Search(gctx, v, perVariantLimit)
			if err != nil {
				slog.Warn("scout: search variant failed, skipping", "variant", v, "error", err)
				return nil
			}
			results[i] = ids
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var merged []string
	for _, ids := range results {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}

var _ PubMedSearcher = (*pubmedclient.Client)(nil)
