package significance

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/episodic-memory/internal/model"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestScoreWorkedExample(t *testing.T) {
	s := Score(Input{
		Content:   "Do you remember my sister's wedding?",
		Kind:      model.KindConversation,
		Emotion:   "joy",
		Intensity: 0.6,
		Timestamp: now,
	}, History{}, now)

	assert.InDelta(t, 0.42, s.Factors.EmotionalIntensity, 1e-9)
	assert.InDelta(t, 0.5, s.Factors.PersonalRelevance, 1e-9)
	assert.InDelta(t, 1.0, s.Factors.Uniqueness, 1e-9)
	assert.InDelta(t, 1.0, s.Factors.TemporalImportance, 1e-9)
	assert.InDelta(t, 0.8, s.Factors.InteractionValue, 1e-9)
	assert.InDelta(t, 0.5, s.Factors.PatternSignificance, 1e-9)
	assert.InDelta(t, 0.675, s.Overall, 1e-9)
	assert.Equal(t, model.SignificanceHigh, s.Label)
	assert.InDelta(t, 0.909, s.DecayResistance, 1e-9)
}

func TestTrivialQuestionIsPenalized(t *testing.T) {
	assert.InDelta(t, 0.2, interaction("hello, what time is it?", model.KindFact), 1e-9)
	assert.InDelta(t, 0.6, interaction("why is the sky blue?", model.KindFact), 1e-9)
	// "no" inside "know" is not small talk
	assert.InDelta(t, 0.65, interaction("do you know why?", model.KindFact), 1e-9)
	assert.InDelta(t, 0.1, interaction("thanks?", model.KindContext), 1e-9)
}

func TestPersonalRelevance(t *testing.T) {
	recent := []string{"the wedding was lovely", "wedding cake tasting", "venue tour"}
	assert.InDelta(t, 0.4, personalRelevance("planning the wedding venue today", recent), 1e-9)
	assert.InDelta(t, 0.3, personalRelevance("nothing shared", recent), 1e-9)
	assert.InDelta(t, 0.5, personalRelevance("anything", nil), 1e-9)
}

func TestUniqueness(t *testing.T) {
	assert.InDelta(t, 0.1, uniqueness("a b", []string{"a b"}), 1e-9)
	assert.InDelta(t, 1.0, uniqueness("a b", []string{"c d"}), 1e-9)
	assert.InDelta(t, 1.0, uniqueness("a b", nil), 1e-9)
	// jaccard {a,b} vs {a,c} = 1/3
	assert.InDelta(t, 2.0/3.0, uniqueness("a b", []string{"a c"}), 1e-9)
}

func TestTemporalSteps(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{30 * time.Minute, 1.0},
		{5 * time.Hour, 0.9},
		{3 * 24 * time.Hour, 0.7},
		{20 * 24 * time.Hour, 0.5},
		{90 * 24 * time.Hour, 0.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, temporal(now.Add(-tt.age), now), "age %v", tt.age)
	}
	assert.Equal(t, 0.5, temporal(time.Time{}, now))
}

func TestPatternBreak(t *testing.T) {
	h := History{Emotions: []string{"sadness", "sadness", "joy"}, Themes: []string{"wedding"}}
	assert.Equal(t, "sadness", h.DominantEmotion())
	assert.InDelta(t, 0.9, pattern("today was great", "joy", h), 1e-9)
	assert.InDelta(t, 0.5, pattern("the wedding again", "sadness", h), 1e-9)
	assert.InDelta(t, 0.3, pattern("nothing", "sadness", h), 1e-9)
	assert.InDelta(t, 0.5, pattern("anything", "joy", History{}), 1e-9)
}

func TestScoreBounds(t *testing.T) {
	contents := []string{
		"",
		"ok",
		"I love you so much, you are my everything and I am so happy and grateful?",
		"What time is it?",
		"my cat's name is Luna",
	}
	emotions := []string{"joy", "fear", "neutral", "unknown_label", ""}
	kinds := []model.Kind{model.KindConversation, model.KindFact, model.KindPreference, model.KindCorrection}
	recent := [][]string{nil, {"my cat's name is Luna", "ok"}, {"i love you"}}

	for ci, c := range contents {
		for _, e := range emotions {
			for _, k := range kinds {
				for ri, r := range recent {
					for _, intensity := range []float64{0, 0.5, 1} {
						name := fmt.Sprintf("%d/%s/%s/%d/%.1f", ci, e, k, ri, intensity)
						s := Score(Input{Content: c, Kind: k, Emotion: e, Intensity: intensity, Timestamp: now.Add(-time.Hour)},
							History{Recent: r, Emotions: []string{"joy"}}, now)
						assert.GreaterOrEqual(t, s.Overall, 0.0, name)
						assert.LessOrEqual(t, s.Overall, 1.0, name)
						assert.LessOrEqual(t, s.DecayResistance, 1.0, name)
						assert.Equal(t, model.SignificanceLabel(s.Overall), s.Label, name)
					}
				}
			}
		}
	}
}

func TestFallback(t *testing.T) {
	f := Fallback()
	assert.Equal(t, 0.5, f.Overall)
	assert.Equal(t, model.SignificanceStandard, f.Label)
	assert.Equal(t, 1.0, f.DecayResistance)
}
