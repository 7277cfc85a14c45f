// Package significance scores how important a memory is and how well it
// should resist decay.
package significance

import (
	"math"
	"strings"
	"time"

	"github.com/rcliao/episodic-memory/internal/emotion"
	"github.com/rcliao/episodic-memory/internal/model"
)

// Factor weights of the overall score.
const (
	WeightEmotional   = 0.25
	WeightPersonal    = 0.20
	WeightUniqueness  = 0.15
	WeightTemporal    = 0.15
	WeightInteraction = 0.15
	WeightPattern     = 0.10
)

// Input is the memory being scored.
type Input struct {
	Content   string
	Kind      model.Kind
	Emotion   string
	Intensity float64
	Timestamp time.Time
}

// History is what the scorer knows about the tenant's recent past.
type History struct {
	// Recent holds the content of the tenant's latest memories, newest first.
	Recent []string
	// Emotions holds the emotion labels of the latest conversation memories.
	Emotions []string
	// Themes are recurring theme words for the tenant.
	Themes []string
}

// DominantEmotion is the most frequent label in Emotions, earliest wins ties.
func (h History) DominantEmotion() string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, e := range h.Emotions {
		counts[e]++
	}
	for _, e := range h.Emotions {
		if counts[e] > bestN {
			best, bestN = e, counts[e]
		}
	}
	return best
}

// Fallback is the score used when the tenant history cannot be read.
func Fallback() model.Significance {
	return model.Significance{
		Overall:         0.5,
		Label:           model.SignificanceStandard,
		DecayResistance: 1.0,
	}
}

// Score computes the weighted significance of in given the tenant history.
func Score(in Input, h History, now time.Time) model.Significance {
	f := model.SignificanceFactors{
		EmotionalIntensity:  emotional(in.Emotion, in.Intensity),
		PersonalRelevance:   personalRelevance(in.Content, h.Recent),
		Uniqueness:          uniqueness(in.Content, h.Recent),
		TemporalImportance:  temporal(in.Timestamp, now),
		InteractionValue:    interaction(in.Content, in.Kind),
		PatternSignificance: pattern(in.Content, in.Emotion, h),
	}
	overall := clamp(f.EmotionalIntensity*WeightEmotional +
		f.PersonalRelevance*WeightPersonal +
		f.Uniqueness*WeightUniqueness +
		f.TemporalImportance*WeightTemporal +
		f.InteractionValue*WeightInteraction +
		f.PatternSignificance*WeightPattern)

	return model.Significance{
		Overall:         overall,
		Factors:         f,
		Label:           model.SignificanceLabel(overall),
		DecayResistance: math.Min(1, overall+0.2*f.EmotionalIntensity+0.15*f.Uniqueness),
	}
}

func emotional(label string, intensity float64) float64 {
	return math.Min(1, intensity*emotion.Weight(label))
}

func personalRelevance(content string, recent []string) float64 {
	if len(recent) == 0 {
		return 0.5
	}
	words := wordSet(content)
	themes := map[string]int{}
	for _, r := range recent {
		for w := range wordSet(r) {
			if len(w) > 3 && words[w] {
				themes[w]++
			}
		}
	}
	if len(themes) == 0 {
		return 0.3
	}
	most := 0
	for _, n := range themes {
		most = max(most, n)
	}
	return math.Min(1, float64(most)/5)
}

func uniqueness(content string, recent []string) float64 {
	words := wordSet(content)
	var sum float64
	n := 0
	for _, r := range recent {
		other := wordSet(r)
		if len(words) == 0 || len(other) == 0 {
			continue
		}
		inter := 0
		for w := range words {
			if other[w] {
				inter++
			}
		}
		union := len(words) + len(other) - inter
		sum += float64(inter) / float64(union)
		n++
	}
	if n == 0 {
		return 1
	}
	return math.Max(0.1, 1-sum/float64(n))
}

func temporal(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0.5
	}
	age := now.Sub(ts)
	switch {
	case age < time.Hour:
		return 1.0
	case age < 24*time.Hour:
		return 0.9
	case age < 7*24*time.Hour:
		return 0.7
	case age < 30*24*time.Hour:
		return 0.5
	default:
		return 0.3
	}
}

var kindWeights = map[model.Kind]float64{
	model.KindConversation: 0.5,
	model.KindFact:         0.4,
	model.KindPreference:   0.6,
}

var pronouns = map[string]bool{
	"i": true, "me": true, "my": true, "myself": true,
	"you": true, "your": true, "we": true, "us": true, "our": true,
}

// trivialPhrases are small talk that should not read as a meaningful question.
var trivialPhrases = []string{
	"what time", "what day", "what date", "how are you", "hi there",
	"good morning", "good night", "thank you",
}

var trivialWords = map[string]bool{
	"hello": true, "thanks": true, "okay": true, "ok": true, "yes": true, "no": true,
}

func trivial(content string) bool {
	lower := strings.ToLower(content)
	for _, p := range trivialPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, w := range strings.FieldsFunc(lower, notWordRune) {
		if trivialWords[w] {
			return true
		}
	}
	return false
}

func interaction(content string, kind model.Kind) float64 {
	score, ok := kindWeights[kind]
	if !ok {
		score = 0.3
	}
	if strings.Contains(content, "?") {
		if trivial(content) {
			score -= 0.2
		} else {
			score += 0.2
		}
	}
	personal := 0
	for _, w := range strings.Fields(strings.ToLower(content)) {
		if pronouns[w] {
			personal++
		}
	}
	score += math.Min(0.2, float64(personal)*0.05)
	return math.Max(0.1, math.Min(1, score))
}

func pattern(content, label string, h History) float64 {
	if len(h.Emotions) == 0 {
		return 0.5
	}
	if dominant := h.DominantEmotion(); dominant != "" && label != dominant {
		return 0.9
	}
	lower := strings.ToLower(content)
	matches := 0
	for _, t := range h.Themes {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			matches++
		}
	}
	return math.Min(1, 0.3+0.2*float64(matches))
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

func notWordRune(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
