package chunker

import (
	"strings"
	"testing"
)

func TestChunk_EmptyInput(t *testing.T) {
	result := Chunk("", DefaultOptions())
	if result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	text := "This is a short memory."
	result := Chunk(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text {
		t.Errorf("expected %q, got %q", text, result[0].Text)
	}
}

func TestShouldChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"short", "hello there", false},
		{"two periods", "One. Two.", false},
		{"three periods", "One. Two. Three.", true},
		{"two exclamations", "Wow! Really!", true},
		{"two questions", "Why? How?", true},
		{"long", strings.Repeat("a", 301), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldChunk(tt.text, DefaultOptions()); got != tt.want {
				t.Errorf("ShouldChunk(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestChunk_ReconstructsSentences(t *testing.T) {
	text := "I went to the aquarium yesterday with my sister. We saw the new octopus exhibit and it was amazing! " +
		"The octopus changed colors right in front of us. My sister asked if octopuses dream? " +
		"The guide said nobody really knows. Afterwards we had lunch by the pier and watched the seals. " +
		"It was the best day I have had in months. I want to go back next summer."

	chunks := Chunk(text, DefaultOptions())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var rebuilt []string
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Sentences) > DefaultMaxSentences {
			t.Errorf("chunk %d has %d sentences", i, len(c.Sentences))
		}
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("chunk %d not terminated: %q", i, c.Text)
		}
		rebuilt = append(rebuilt, Sentences(c.Text)...)
	}

	want := Sentences(text)
	if strings.Join(rebuilt, "|") != strings.Join(want, "|") {
		t.Errorf("sentences not preserved:\n got %v\nwant %v", rebuilt, want)
	}
}

func TestChunk_RespectsCharBudget(t *testing.T) {
	s := strings.Repeat("x", 120)
	text := s + ". " + s + ". " + s + ". " + s + "."
	chunks := Chunk(text, DefaultOptions())
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Sentences) != 2 {
			t.Errorf("expected 2 sentences per chunk, got %d", len(c.Sentences))
		}
	}
}

func TestChunk_SingleSentenceNotSplit(t *testing.T) {
	text := strings.Repeat("word ", 80)
	chunks := Chunk(text, DefaultOptions())
	if len(chunks) != 1 || chunks[0].Text != strings.TrimSpace(text) {
		t.Errorf("expected original text back, got %v", chunks)
	}
}
