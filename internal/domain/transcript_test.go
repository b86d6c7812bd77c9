package domain

import (
	"strings"
	"testing"
	"time"
)

func TestSeedTranscriptHasOnlyGreeting(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	seed := SeedTranscript("hello", now)

	if len(seed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(seed))
	}
	if seed[0].From != SenderBot || seed[0].Text != "hello" {
		t.Fatalf("unexpected seed message: %+v", seed[0])
	}
	if seed.HasUserMessages() {
		t.Fatal("seed transcript should not contain user messages")
	}
}

func TestTranscriptRoundTripKeepsOrder(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	in := Transcript{
		{From: SenderBot, Text: "hi", Timestamp: now},
		{From: SenderUser, Text: "what is RAG?", Timestamp: now.Add(time.Second)},
		{From: SenderBot, Text: "retrieval augmented generation", Timestamp: now.Add(2 * time.Second),
			Sources: []Source{{URL: "https://example.com/rag"}}},
	}

	raw, err := MarshalTranscript(in)
	if err != nil {
		t.Fatalf("MarshalTranscript failed: %v", err)
	}
	if !strings.Contains(raw, `"from":"user"`) {
		t.Fatalf("expected from field in stored JSON: %s", raw)
	}

	out, err := UnmarshalTranscript(raw)
	if err != nil {
		t.Fatalf("UnmarshalTranscript failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d messages, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].From != in[i].From || out[i].Text != in[i].Text {
			t.Errorf("message %d: expected %+v, got %+v", i, in[i], out[i])
		}
	}
	if out[2].FirstSource() != "https://example.com/rag" {
		t.Errorf("expected source to survive, got %q", out[2].FirstSource())
	}
}

func TestUnmarshalTranscriptDropsStaleStreaming(t *testing.T) {
	raw := `[{"from":"bot","text":"Hello","timestamp":"2026-01-02T15:00:00Z"},` +
		`{"from":"user","text":"hi","timestamp":"2026-01-02T15:03:00Z"},` +
		`{"from":"bot","text":"Typing...","timestamp":"2026-01-02T15:04:00Z","streaming":true}]`
	out, err := UnmarshalTranscript(raw)
	if err != nil {
		t.Fatalf("UnmarshalTranscript failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected the unfinished entry to be dropped, got %d messages", len(out))
	}
	for i, m := range out {
		if m.Streaming || m.Text == "Typing..." {
			t.Errorf("message %d: unfinished entry survived load: %+v", i, m)
		}
	}
}

func TestUnmarshalTranscriptRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalTranscript("{not json"); err == nil {
		t.Fatal("expected error for malformed transcript")
	}
}

func TestCloneDoesNotAliasSources(t *testing.T) {
	orig := Transcript{{From: SenderBot, Text: "x", Sources: []Source{{URL: "a"}}}}
	cp := orig.Clone()
	cp[0].Sources[0].URL = "b"
	if orig[0].Sources[0].URL != "a" {
		t.Fatal("clone shares sources slice with original")
	}
}
