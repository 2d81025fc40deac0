package realtime

import "testing"

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("expected unchanged short string, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Fatalf("expected truncated string, got %q", got)
	}
	if got := truncate("", 5); got != "" {
		t.Fatalf("expected empty string to remain empty, got %q", got)
	}
}

func TestDecode(t *testing.T) {
	t.Run("decodes matching payload", func(t *testing.T) {
		ev := NewEvent(InJoinConversation, conversationRef{ConversationID: 7})
		got, err := decode[conversationRef](ev)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ConversationID != 7 {
			t.Fatalf("got conversationId %d, want 7", got.ConversationID)
		}
	})

	t.Run("errors on malformed payload", func(t *testing.T) {
		ev := Event{Event: InJoinConversation, Data: []byte("not json")}
		if _, err := decode[conversationRef](ev); err == nil {
			t.Fatal("expected an error decoding malformed JSON")
		}
	})
}

func TestExtractMentionTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"single mention", "hey @Ali how's it going", []string{"ali"}},
		{"mention with trailing punctuation", "ping @bob, got a sec?", []string{"bob"}},
		{"parenthesized mention", "(@carol) take a look", []string{"carol"}},
		{"multiple mentions", "@Ali and @bob please review", []string{"ali", "bob"}},
		{"no mentions", "no tokens here", nil},
		{"bare at sign is not a mention", "email me @ noon", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractMentionTokens(tc.content)
			if len(got) != len(tc.want) {
				t.Fatalf("extractMentionTokens(%q) = %v, want %v", tc.content, got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("extractMentionTokens(%q)[%d] = %q, want %q", tc.content, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestMentionsMember(t *testing.T) {
	t.Run("prefix match is case-insensitive", func(t *testing.T) {
		if !mentionsMember([]string{"ali"}, "Alice") {
			t.Fatal("expected @Ali to prefix-match Alice")
		}
	})

	t.Run("full name matches too", func(t *testing.T) {
		if !mentionsMember([]string{"alice"}, "Alice") {
			t.Fatal("expected exact-name mention to match")
		}
	})

	t.Run("non-prefix does not match", func(t *testing.T) {
		if mentionsMember([]string{"lice"}, "Alice") {
			t.Fatal("expected a non-prefix substring to not match")
		}
	})

	t.Run("no tokens never matches", func(t *testing.T) {
		if mentionsMember(nil, "Alice") {
			t.Fatal("expected no tokens to never match")
		}
	})
}
