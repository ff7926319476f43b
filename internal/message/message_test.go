package message

import (
	"strings"
	"testing"

	"campaignbot/internal/config"
)

func TestStaticMessageWithLinkAndImage(t *testing.T) {
	t.Parallel()
	g, err := New(config.MessageConfig{Text: "hi {{recipient}}", Link: "https://example.com", Image: "promo.webp"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := g.Compose("@alice")
	if p.Text != "hi @alice\nhttps://example.com" {
		t.Fatalf("text = %q", p.Text)
	}
	if p.MediaPath != "promo.webp" {
		t.Fatalf("media = %q", p.MediaPath)
	}
}

func TestSpinnerUsesPhrasesAndEmojis(t *testing.T) {
	t.Parallel()
	phrases := []string{"hello there", "good morning"}
	g, err := New(config.MessageConfig{Phrases: append(phrases, "  "), Emojis: []string{"*"}}, WithSeed(7))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	withEmoji, without := 0, 0
	seen := map[string]bool{}
	for i := 0; i < 400; i++ {
		text := g.Compose("r").Text
		base := strings.TrimSuffix(text, " *")
		if base != text {
			withEmoji++
		} else {
			without++
		}
		if base != phrases[0] && base != phrases[1] {
			t.Fatalf("unexpected text %q", text)
		}
		seen[base] = true
	}
	if len(seen) != 2 || withEmoji == 0 || without == 0 {
		t.Fatalf("poor variation: seen=%v emoji=%d plain=%d", seen, withEmoji, without)
	}
}

func TestSpinnerDefaultsEmojis(t *testing.T) {
	t.Parallel()
	g, err := New(config.MessageConfig{Phrases: []string{"x"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(g.emojis) != len(DefaultEmojis) {
		t.Fatalf("emojis = %v", g.emojis)
	}
}

func TestNewRequiresContent(t *testing.T) {
	t.Parallel()
	if _, err := New(config.MessageConfig{Link: "https://example.com"}); err == nil {
		t.Fatal("expected error for empty message")
	}
}
