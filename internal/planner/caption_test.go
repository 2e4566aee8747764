package planner

import "testing"

func TestExtractCaptionFindsDelimitedText(t *testing.T) {
	got := ExtractCaption("https://cdn.example.com/media/*****Hello world*****.jpg")
	if got != "Hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractCaptionReturnsEmptyWithoutDelimiters(t *testing.T) {
	if got := ExtractCaption("https://cdn.example.com/media/plain.jpg"); got != "" {
		t.Fatalf("expected empty caption, got %q", got)
	}
}

func TestExtractCaptionTruncatesTo200Runes(t *testing.T) {
	long := make([]rune, 250)
	for i := range long {
		long[i] = 'a'
	}
	url := "*****" + string(long) + "*****"
	got := ExtractCaption(url)
	if len([]rune(got)) != 200 {
		t.Fatalf("expected 200 runes, got %d", len([]rune(got)))
	}
}

func TestExtractCaptionUsesFirstMatch(t *testing.T) {
	got := ExtractCaption("*****first***** then *****second*****")
	if got != "first" {
		t.Fatalf("expected first match, got %q", got)
	}
}
