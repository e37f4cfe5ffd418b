package service

import (
	"regexp"
	"strings"

	"github.com/aesop-rag/aesop/internal/model"
)

var deicticPattern = regexp.MustCompile(`(?i)\b(these|those|this|that)\s+(studies|papers|results|articles|findings)\b`)
var pronounReferencePattern = regexp.MustCompile(`(?i)\b(them|it)\b`)
var referenceNounPattern = regexp.MustCompile(`(?i)\b(studies|papers|results|articles|findings|study|paper)\b`)
var explicitPMIDPattern = regexp.MustCompile(`(?i)\bpmid\s*\d+\b`)
var explicitOrdinalPattern = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth|paper|study)\s*\d*\b`)

var routeStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"and": {}, "or": {}, "to": {}, "with": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "by": {}, "at": {}, "as": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "it": {}, "its": {}, "be": {}, "has": {}, "have": {}, "do": {},
	"does": {}, "what": {}, "which": {}, "who": {}, "how": {}, "did": {},
}

func hasDeicticOrExplicitSignal(message string) bool {
	if deicticPattern.MatchString(message) {
		return true
	}
	if explicitPMIDPattern.MatchString(message) {
		return true
	}
	if explicitOrdinalPattern.MatchString(message) {
		return true
	}
	return hasNearbyPronounReference(message)
}

// hasNearbyPronounReference checks for a bare "them"/"it" within 15
// characters of a reference noun (studies/papers/results/...), per §4.2.
func hasNearbyPronounReference(message string) bool {
	pronounLocs := pronounReferencePattern.FindAllStringIndex(message, -1)
	nounLocs := referenceNounPattern.FindAllStringIndex(message, -1)
	if len(pronounLocs) == 0 || len(nounLocs) == 0 {
		return false
	}
	for _, p := range pronounLocs {
		for _, n := range nounLocs {
			if absInt(p[0]-n[0]) <= 15 {
				return true
			}
		}
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := routeStopwords[f]; stop {
			continue
		}
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// jaccardSimilarity computes the Jaccard index between the message's
// stopworded tokens and the union of session paper titles' tokens.
func jaccardSimilarity(message string, titles []string) float64 {
	a := tokenize(message)
	b := make(map[string]struct{})
	for _, title := range titles {
		for t := range tokenize(title) {
			b[t] = struct{}{}
		}
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Router implements C7: chooses Route A/B/C for a research-intent request.
type Router struct{}

func NewRouter() *Router { return &Router{} }

// Route decides the pipeline for a research/followup_research intent.
// sessionTitles is the set of cached paper titles in the current session
// (empty when there is no session).
func (r *Router) Route(intent model.Intent, message string, hasSession bool, sessionTitles []string) model.Route {
	if !hasSession {
		return model.RouteFullGraph
	}

	if intent == model.IntentFollowupResearch {
		return model.RouteContextQA
	}

	if hasDeicticOrExplicitSignal(message) {
		return model.RouteContextQA
	}

	sim := jaccardSimilarity(message, sessionTitles)

	// Tie-break at the exact boundaries favors the more conservative
	// (higher-effort) route: B over C at 0.35, A over B at 0.15.
	if sim > 0.35 {
		return model.RouteContextQA
	}
	if sim > 0.15 {
		return model.RouteAugmented
	}
	return model.RouteFullGraph
}
