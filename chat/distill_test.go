package chat

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestStripThink(t *testing.T) {
	in := "<think>let me reason\nabout this</think>The answer."
	if got := stripThink(in); got != "The answer." {
		t.Errorf("stripThink = %q", got)
	}
	if got := stripThink("no tags here"); got != "no tags here" {
		t.Errorf("stripThink = %q", got)
	}
}

func TestParseDistilled(t *testing.T) {
	user, bot := parseDistilled(
		"USER: asked about France.\nASSISTANT: said the capital is Paris.",
		"original user", "original bot")
	if user != "asked about France." || bot != "said the capital is Paris." {
		t.Errorf("parsed = %q / %q", user, bot)
	}
}

func TestParseDistilledParagraphFallback(t *testing.T) {
	user, bot := parseDistilled(
		"The user asked a question.\n\nThe assistant answered it.",
		"original user", "original bot")
	if user != "The user asked a question." || bot != "The assistant answered it." {
		t.Errorf("fallback = %q / %q", user, bot)
	}
}

func TestParseDistilledTruncationFallback(t *testing.T) {
	longUser := strings.Repeat("u", 500)
	longBot := strings.Repeat("b", 500)
	user, bot := parseDistilled("unparseable single line", longUser, longBot)
	if len(user) != fallbackUserSummary || len(bot) != fallbackBotSummary {
		t.Errorf("truncation fallback lengths = %d / %d", len(user), len(bot))
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo wörld", 5); got != "héllo" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("short", 100); got != "short" {
		t.Errorf("truncateRunes = %q", got)
	}
}

func readZipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reading zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}
