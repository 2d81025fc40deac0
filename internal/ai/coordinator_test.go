package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"chatcore/internal/models"
)

func TestTrimByCharBudget(t *testing.T) {
	msg := func(n int) models.Message {
		return models.Message{Type: models.MessageText, Content: strings.Repeat("a", n)}
	}

	t.Run("keeps everything under budget", func(t *testing.T) {
		msgs := []models.Message{msg(100), msg(100), msg(100)}
		out := trimByCharBudget(msgs, 1000)
		if len(out) != 3 {
			t.Fatalf("expected all 3 messages kept, got %d", len(out))
		}
	})

	t.Run("drops oldest first when over budget", func(t *testing.T) {
		msgs := []models.Message{msg(100), msg(100), msg(100)}
		out := trimByCharBudget(msgs, 150)
		if len(out) != 1 {
			t.Fatalf("expected 1 message kept, got %d", len(out))
		}
	})

	t.Run("exact boundary is kept", func(t *testing.T) {
		msgs := []models.Message{msg(10), msg(20)}
		out := trimByCharBudget(msgs, 30)
		if len(out) != 2 {
			t.Fatalf("expected both messages kept at exact budget, got %d", len(out))
		}
	})

	t.Run("one over boundary drops the oldest", func(t *testing.T) {
		msgs := []models.Message{msg(10), msg(20)}
		out := trimByCharBudget(msgs, 29)
		if len(out) != 1 {
			t.Fatalf("expected only newest message kept, got %d", len(out))
		}
		if out[0].Content != msgs[1].Content {
			t.Fatalf("expected newest message retained")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		out := trimByCharBudget(nil, 1000)
		if len(out) != 0 {
			t.Fatalf("expected empty output for empty input")
		}
	})
}

func TestBuildChatMessages(t *testing.T) {
	msgs := []models.Message{
		{Type: models.MessageText, Content: "hi"},
		{Type: models.MessageAIResponse, Content: "hello"},
	}

	t.Run("maps roles and includes system prompt", func(t *testing.T) {
		out := buildChatMessages("be nice", msgs)
		if len(out) != 3 {
			t.Fatalf("expected 3 messages (system + 2), got %d", len(out))
		}
		if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be nice" {
			t.Fatalf("expected leading system message, got %+v", out[0])
		}
		if out[1].Role != openai.ChatMessageRoleUser {
			t.Fatalf("expected TEXT to map to user role, got %s", out[1].Role)
		}
		if out[2].Role != openai.ChatMessageRoleAssistant {
			t.Fatalf("expected AI_RESPONSE to map to assistant role, got %s", out[2].Role)
		}
	})

	t.Run("omits system message when prompt empty", func(t *testing.T) {
		out := buildChatMessages("", msgs)
		if len(out) != 2 {
			t.Fatalf("expected 2 messages with no system prompt, got %d", len(out))
		}
		if out[0].Role != openai.ChatMessageRoleUser {
			t.Fatalf("expected first message to be user role, got %s", out[0].Role)
		}
	})
}

func TestStopOwnedBy(t *testing.T) {
	newHandle := func(owner int64) (*genHandle, context.Context) {
		ctx, cancel := context.WithCancel(context.Background())
		return &genHandle{cancel: cancel, ownerID: owner}, ctx
	}

	t.Run("cancels when the caller owns the generation", func(t *testing.T) {
		handle, ctx := newHandle(42)
		co := &Coordinator{inflight: map[int64]*genHandle{1: handle}}
		co.StopOwnedBy(1, 42)
		select {
		case <-ctx.Done():
		default:
			t.Fatal("expected generation to be cancelled")
		}
	})

	t.Run("leaves another user's generation running", func(t *testing.T) {
		handle, ctx := newHandle(42)
		co := &Coordinator{inflight: map[int64]*genHandle{1: handle}}
		co.StopOwnedBy(1, 99)
		select {
		case <-ctx.Done():
			t.Fatal("expected generation owned by a different user to survive")
		default:
		}
	})

	t.Run("no-op when nothing in flight", func(t *testing.T) {
		co := &Coordinator{inflight: map[int64]*genHandle{}}
		co.StopOwnedBy(1, 42) // must not panic
	})
}

func TestSmartRepliesLineParsing(t *testing.T) {
	parse := func(text string) []string {
		var out []string
		for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
			line = strings.TrimSpace(strings.TrimLeft(line, "-•0123456789. \t"))
			if line == "" {
				continue
			}
			out = append(out, line)
			if len(out) == 3 {
				break
			}
		}
		return out
	}

	t.Run("strips numbering and bullets", func(t *testing.T) {
		got := parse("1. Sounds good\n- Maybe later\n• Let's talk tomorrow")
		want := []string{"Sounds good", "Maybe later", "Let's talk tomorrow"}
		if len(got) != len(want) {
			t.Fatalf("expected %d replies, got %d: %v", len(want), len(got), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("reply %d: got %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("caps at three even with more lines", func(t *testing.T) {
		got := parse("One\nTwo\nThree\nFour")
		if len(got) != 3 {
			t.Fatalf("expected at most 3 replies, got %d", len(got))
		}
	})

	t.Run("skips blank lines", func(t *testing.T) {
		got := parse("One\n\n\nTwo")
		if len(got) != 2 {
			t.Fatalf("expected blank lines dropped, got %d: %v", len(got), got)
		}
	})
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("expected unchanged short string, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Fatalf("expected truncated string, got %q", got)
	}
}
