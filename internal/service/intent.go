package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/model"
)

var greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|ok|okay|cool|great|good morning|good afternoon|good evening)[\s!.,]*$`)

var medicalKeywords = []string{
	"treatment", "treatments", "disease", "diagnosis", "symptom", "symptoms",
	"therapy", "therapies", "drug", "drugs", "medication", "clinical",
	"patients", "trial", "trials", "cancer", "diabetes", "syndrome",
	"prevalence", "etiology", "prognosis", "efficacy", "dosage",
}

var systemKeywords = []string{
	"who are you", "what can you do", "how do you work", "help me understand this system",
	"what is this", "capabilities",
}

var followupKeywords = []string{
	"these studies", "those studies", "these papers", "those papers",
	"these results", "those results", "these findings", "those findings",
	"sample size", "sample sizes", "what about", "tell me more", "more detail",
}

var utilityKeywords = []string{
	"make it shorter", "shorten", "summarize that", "bulletize", "bullet points",
	"simplify", "tabulate", "extract the conclusion", "condense",
}

// IntentResult is the output of Classify: the chosen intent and the
// classifier's confidence in [0,1].
type IntentResult struct {
	Intent     model.Intent
	Confidence float64
}

// IntentClassifier implements the four-stage hybrid classifier (C6).
type IntentClassifier struct {
	llm llmclient.Client
}

func NewIntentClassifier(llm llmclient.Client) *IntentClassifier {
	return &IntentClassifier{llm: llm}
}

// Classify runs the four ordered stages and returns the final intent. Stage
// order: regex fast path, keyword sets, LLM, context validation. hasSession
// and hasSynthesis describe the caller's session state at call time.
func (c *IntentClassifier) Classify(ctx context.Context, message string, hasSession, hasSynthesis bool) IntentResult {
	trimmed := strings.TrimSpace(message)

	if greetingPattern.MatchString(trimmed) {
		return c.validate(IntentResult{Intent: model.IntentChat, Confidence: 0.98}, trimmed, hasSession, hasSynthesis)
	}

	if res, ok := c.keywordStage(trimmed, hasSession, hasSynthesis); ok {
		return c.validate(res, trimmed, hasSession, hasSynthesis)
	}

	res := c.llmStage(ctx, trimmed, hasSession)
	return c.validate(res, trimmed, hasSession, hasSynthesis)
}

func (c *IntentClassifier) keywordStage(message string, hasSession, hasSynthesis bool) (IntentResult, bool) {
	lower := strings.ToLower(message)

	hasFollowup := containsAny(lower, followupKeywords)
	hasUtility := containsAny(lower, utilityKeywords)
	hasSystem := containsAny(lower, systemKeywords)
	hasMedical := containsAny(lower, medicalKeywords)

	// Without a session, validate rewrites this to research.
	if hasFollowup {
		return IntentResult{Intent: model.IntentFollowupResearch, Confidence: 0.90}, true
	}
	if hasUtility && hasSession && hasSynthesis {
		return IntentResult{Intent: model.IntentUtility, Confidence: 0.90}, true
	}
	if hasSystem && !hasMedical {
		return IntentResult{Intent: model.IntentChat, Confidence: 0.85}, true
	}
	if hasMedical && !hasFollowup && !hasUtility {
		return IntentResult{Intent: model.IntentResearch, Confidence: 0.85}, true
	}

	return IntentResult{}, false
}

type llmIntentResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

const intentSystemPrompt = `You classify a user message into exactly one of: chat, research, followup_research, utility.
Reply with strict JSON only: {"intent": "...", "confidence": 0.0-1.0}. No other text.`

func (c *IntentClassifier) llmStage(ctx context.Context, message string, hasSession bool) IntentResult {
	userPrompt := fmt.Sprintf(`message: %q
has_session: %v`, message, hasSession)

	raw, err := c.llm.Complete(ctx, intentSystemPrompt, userPrompt)
	if err != nil {
		slog.Warn("intent: llm stage failed, defaulting to chat", "error", err)
		return IntentResult{Intent: model.IntentChat, Confidence: 0.4}
	}

	parsed, ok := parseIntentJSON(raw)
	if !ok {
		slog.Warn("intent: llm stage produced unparseable output, defaulting to chat")
		return IntentResult{Intent: model.IntentChat, Confidence: 0.4}
	}
	return parsed
}

func parseIntentJSON(raw string) (IntentResult, bool) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return IntentResult{}, false
	}

	var resp llmIntentResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err != nil {
		return IntentResult{}, false
	}

	intent := model.Intent(strings.ToLower(strings.TrimSpace(resp.Intent)))
	switch intent {
	case model.IntentChat, model.IntentResearch, model.IntentFollowupResearch, model.IntentUtility:
	default:
		return IntentResult{}, false
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return IntentResult{Intent: intent, Confidence: confidence}, true
}

// validate applies stage 4: context-dependent rewrites of the classifier's
// raw verdict.
func (c *IntentClassifier) validate(res IntentResult, message string, hasSession, hasSynthesis bool) IntentResult {
	if res.Intent == model.IntentFollowupResearch && !hasSession {
		res.Intent = model.IntentResearch
	}
	if res.Intent == model.IntentUtility && !hasSynthesis {
		res.Intent = model.IntentChat
	}
	if res.Intent == model.IntentResearch {
		lower := strings.ToLower(message)
		if countTokens(message) < 3 && !containsAny(lower, medicalKeywords) {
			res.Intent = model.IntentChat
		}
	}
	return res
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func countTokens(s string) int {
	return len(strings.Fields(s))
}

// extractJSONObject returns the first balanced {...} substring in s, or ""
// if none is found. Defensive recovery for LLM output wrapped in
// explanatory prose or markdown fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
