package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aesop-rag/aesop/internal/llmclient"
)

var cannedGreetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey)[\s!.,]*$`)
var cannedThanksPattern = regexp.MustCompile(`(?i)^\s*(thanks|thank you)[\s!.,]*$`)

const chatPrompt = `You are a conversational assistant for a biomedical evidence synthesis
system. Respond naturally and briefly. If the user asks a research question,
suggest they ask it as a question about a medical topic so the system can
search the literature.`

const utilityPrompt = `Transform the provided evidence summary according to the user's request
(e.g. shorten, bulletize, simplify, extract conclusion, tabulate). Never
invent content not present in the summary.`

// ChatUtility implements C12: canned + LLM fallback chat, and the Utility
// reformatting transform over a prior synthesis.
type ChatUtility struct {
	llm llmclient.Client
}

func NewChatUtility(llm llmclient.Client) *ChatUtility {
	return &ChatUtility{llm: llm}
}

// Chat answers a chat-intent message. Greetings and thanks get canned
// responses; everything else falls back to the LLM.
func (c *ChatUtility) Chat(ctx context.Context, message string) string {
	trimmed := strings.TrimSpace(message)

	if cannedGreetingPattern.MatchString(trimmed) {
		return "Hello! Ask me a biomedical research question and I'll search the literature for you."
	}
	if cannedThanksPattern.MatchString(trimmed) {
		return "You're welcome! Let me know if you have another research question."
	}

	response, err := c.llm.Complete(ctx, chatPrompt, message)
	if err != nil {
		slog.Warn("chatutility: chat llm call failed", "error", err)
		return "I'm having trouble responding right now. Please try again in a moment."
	}
	return response
}

// Reformat applies a reformatting transform to the session's prior
// synthesis summary. Never invents content beyond what's already there.
func (c *ChatUtility) Reformat(ctx context.Context, instruction, synthesisSummary string) string {
	userPrompt := "Instruction: " + instruction + "\n\nEvidence summary:\n" + synthesisSummary

	response, err := c.llm.Complete(ctx, utilityPrompt, userPrompt)
	if err != nil {
		slog.Warn("chatutility: utility llm call failed", "error", err)
		return synthesisSummary
	}
	return response
}
