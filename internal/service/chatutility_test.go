package service

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChatUtility_Chat_GreetingIsCanned(t *testing.T) {
	llm := &fakeLLM{response: "should not be used"}
	cu := NewChatUtility(llm)

	out := cu.Chat(context.Background(), "  Hello!  ")
	if strings.Contains(out, "should not be used") {
		t.Fatalf("expected canned greeting, llm was called: %q", out)
	}
	if !strings.Contains(out, "Hello!") {
		t.Fatalf("expected canned greeting response, got %q", out)
	}
}

func TestChatUtility_Chat_ThanksIsCanned(t *testing.T) {
	llm := &fakeLLM{response: "should not be used"}
	cu := NewChatUtility(llm)

	out := cu.Chat(context.Background(), "thanks!")
	if strings.Contains(out, "should not be used") {
		t.Fatalf("expected canned thanks, llm was called: %q", out)
	}
	if !strings.Contains(out, "welcome") {
		t.Fatalf("expected canned thanks response, got %q", out)
	}
}

func TestChatUtility_Chat_FallsBackToLLM(t *testing.T) {
	llm := &fakeLLM{response: "general chit-chat reply"}
	cu := NewChatUtility(llm)

	out := cu.Chat(context.Background(), "how are you today?")
	if out != "general chit-chat reply" {
		t.Fatalf("expected llm response, got %q", out)
	}
}

func TestChatUtility_Chat_DegradesOnLLMFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("down")}
	cu := NewChatUtility(llm)

	out := cu.Chat(context.Background(), "how are you today?")
	if !strings.Contains(out, "trouble responding") {
		t.Fatalf("expected degraded chat message, got %q", out)
	}
}

func TestChatUtility_Reformat_PassesInstructionAndSummary(t *testing.T) {
	llm := &fakeLLM{response: "- bullet one\n- bullet two"}
	cu := NewChatUtility(llm)

	out := cu.Reformat(context.Background(), "bulletize", "Long prose summary about diabetes treatment.")
	if out != "- bullet one\n- bullet two" {
		t.Fatalf("expected llm reformatted output, got %q", out)
	}
	if !strings.Contains(llm.lastUser, "bulletize") || !strings.Contains(llm.lastUser, "diabetes") {
		t.Fatalf("expected instruction and summary both in prompt, got %q", llm.lastUser)
	}
}

func TestChatUtility_Reformat_FallsBackToOriginalOnLLMFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("down")}
	cu := NewChatUtility(llm)

	summary := "Original synthesis summary."
	out := cu.Reformat(context.Background(), "shorten", summary)
	if out != summary {
		t.Fatalf("expected original summary returned unchanged, got %q", out)
	}
}
