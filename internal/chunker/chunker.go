// Package chunker splits long or punctuation-dense utterances into
// sentence-aligned chunks so each stored memory stays focused.
package chunker

import (
	"regexp"
	"strings"
)

const (
	DefaultThreshold    = 300
	DefaultMaxChars     = 250
	DefaultMaxSentences = 3
	DefaultMaxPeriods   = 2
	DefaultMaxMarks     = 1
)

// Options configures chunking behavior.
type Options struct {
	// Threshold is the content length above which chunking is considered.
	Threshold int
	// MaxChars bounds the summed sentence length of one chunk.
	MaxChars int
	// MaxSentences bounds the sentence count of one chunk.
	MaxSentences int
	// MaxPeriods and MaxMarks bound the '.' and '!'/'?' counts tolerated
	// in a single memory before chunking.
	MaxPeriods int
	MaxMarks   int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		Threshold:    DefaultThreshold,
		MaxChars:     DefaultMaxChars,
		MaxSentences: DefaultMaxSentences,
		MaxPeriods:   DefaultMaxPeriods,
		MaxMarks:     DefaultMaxMarks,
	}
}

// ChunkResult is one chunk and the sentences it was built from.
type ChunkResult struct {
	Text      string
	Index     int
	Sentences []string
}

var terminators = regexp.MustCompile(`[.!?]+`)

// ShouldChunk reports whether text is long or dense enough to split.
func ShouldChunk(text string, opts Options) bool {
	if opts.MaxChars == 0 {
		opts = DefaultOptions()
	}
	return len(text) > opts.Threshold ||
		strings.Count(text, ".") > opts.MaxPeriods ||
		strings.Count(text, "!") > opts.MaxMarks ||
		strings.Count(text, "?") > opts.MaxMarks
}

// Sentences splits text on runs of terminators and drops empty pieces.
func Sentences(text string) []string {
	var out []string
	for _, s := range terminators.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Chunk splits text into sentence-aligned chunks. Text that does not need
// chunking, or that yields a single chunk, comes back unchanged as one result.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.MaxChars == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	whole := []ChunkResult{{Text: text, Index: 0}}
	if !ShouldChunk(text, opts) {
		return whole
	}

	sentences := Sentences(text)
	if len(sentences) <= 1 {
		return whole
	}

	var results []ChunkResult
	var current []string
	curLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		results = append(results, ChunkResult{
			Text:      strings.Join(current, ". ") + ".",
			Index:     len(results),
			Sentences: current,
		})
		current = nil
		curLen = 0
	}

	for _, s := range sentences {
		if len(current) > 0 && (curLen+len(s) > opts.MaxChars || len(current) >= opts.MaxSentences) {
			flush()
		}
		current = append(current, s)
		curLen += len(s)
	}
	flush()

	if len(results) <= 1 {
		return whole
	}
	return results
}
