package service

import (
	"context"
	"errors"
	"testing"

	"github.com/aesop-rag/aesop/internal/model"
)

type fakeLLM struct {
	response string
	err      error

	lastSystem string
	lastUser   string
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.response, f.err
}

func TestClassify_GreetingFastPath(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{})
	res := c.Classify(context.Background(), "Hello!", false, false)
	if res.Intent != model.IntentChat || res.Confidence != 0.98 {
		t.Fatalf("expected chat/0.98, got %s/%v", res.Intent, res.Confidence)
	}
}

func TestClassify_MedicalKeywordIsResearch(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{})
	res := c.Classify(context.Background(), "What are the treatments for Type 2 diabetes?", false, false)
	if res.Intent != model.IntentResearch {
		t.Fatalf("expected research, got %s", res.Intent)
	}
}

func TestClassify_FollowupRequiresSession(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{})
	withSession := c.Classify(context.Background(), "What sample sizes did these studies use?", true, false)
	if withSession.Intent != model.IntentFollowupResearch {
		t.Fatalf("expected followup_research, got %s", withSession.Intent)
	}

	withoutSession := c.Classify(context.Background(), "What sample sizes did these studies use?", false, false)
	if withoutSession.Intent != model.IntentResearch {
		t.Fatalf("expected validation to rewrite to research, got %s", withoutSession.Intent)
	}
}

func TestClassify_UtilityRequiresSessionAndSynthesis(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{})
	res := c.Classify(context.Background(), "Make it shorter", true, true)
	if res.Intent != model.IntentUtility {
		t.Fatalf("expected utility, got %s", res.Intent)
	}

	noSynthesis := c.Classify(context.Background(), "Make it shorter", true, false)
	if noSynthesis.Intent != model.IntentChat {
		t.Fatalf("expected rewrite to chat without prior synthesis, got %s", noSynthesis.Intent)
	}
}

func TestClassify_SystemKeywordWithoutMedicalIsChat(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{})
	res := c.Classify(context.Background(), "What can you do?", false, false)
	if res.Intent != model.IntentChat {
		t.Fatalf("expected chat, got %s", res.Intent)
	}
}

func TestClassify_ShortAmbiguousResearchRewritesToChat(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{response: `{"intent":"research","confidence":0.5}`})
	res := c.Classify(context.Background(), "hm ok", false, false)
	if res.Intent != model.IntentChat {
		t.Fatalf("expected short non-medical research to rewrite to chat, got %s", res.Intent)
	}
}

func TestClassify_LLMStageFallbackOnError(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{err: errors.New("boom")})
	res := c.Classify(context.Background(), "tell me something ambiguous here", false, false)
	if res.Intent != model.IntentChat || res.Confidence != 0.4 {
		t.Fatalf("expected chat/0.4 fallback, got %s/%v", res.Intent, res.Confidence)
	}
}

func TestClassify_LLMStageFallbackOnMalformedJSON(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{response: "not json at all"})
	res := c.Classify(context.Background(), "tell me something ambiguous here", false, false)
	if res.Intent != model.IntentChat || res.Confidence != 0.4 {
		t.Fatalf("expected chat/0.4 fallback, got %s/%v", res.Intent, res.Confidence)
	}
}

func TestClassify_LLMStageParsesValidJSON(t *testing.T) {
	c := NewIntentClassifier(&fakeLLM{response: `{"intent":"research","confidence":0.72}`})
	res := c.Classify(context.Background(), "tell me something ambiguous here today please", false, false)
	if res.Intent != model.IntentResearch || res.Confidence != 0.72 {
		t.Fatalf("expected research/0.72, got %s/%v", res.Intent, res.Confidence)
	}
}

func TestParseIntentJSON_ExtractsFromSurroundingProse(t *testing.T) {
	res, ok := parseIntentJSON("Sure, here you go: {\"intent\": \"chat\", \"confidence\": 0.6} thanks!")
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if res.Intent != model.IntentChat || res.Confidence != 0.6 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseIntentJSON_ClampsConfidence(t *testing.T) {
	res, ok := parseIntentJSON(`{"intent":"chat","confidence":1.5}`)
	if !ok || res.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %v", res.Confidence)
	}
}

func TestExtractJSONObject_Unbalanced(t *testing.T) {
	if got := extractJSONObject("{ unterminated"); got != "" {
		t.Fatalf("expected empty string for unbalanced input, got %q", got)
	}
}
