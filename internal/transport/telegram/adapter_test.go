package telegram

import (
	"strings"
	"testing"

	kit "quotebot/internal/transport"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()

	got := splitTelegramText("hello", 4000, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("line one\n", 20)
	chunks := splitTelegramText(text, 50, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 50 {
			t.Fatalf("chunk %d over limit: %q", i, c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
	}
}

func TestSplitTelegramTextAvoidsHTMLTagSplit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 45) + "<b>bold</b>"
	for _, c := range splitTelegramText(text, 48, "HTML") {
		open := strings.Count(c, "<")
		closed := strings.Count(c, ">")
		if open != closed {
			t.Fatalf("chunk splits inside a tag: %q", c)
		}
	}
}

func TestRecipient(t *testing.T) {
	t.Parallel()

	if r := recipient(kit.ChatTarget{Username: "@quotes"}); r.Recipient() != "@quotes" {
		t.Fatalf("recipient = %q", r.Recipient())
	}
	if r := recipient(kit.ChatTarget{ChatID: -100123}); r.Recipient() != "-100123" {
		t.Fatalf("recipient = %q", r.Recipient())
	}
}
