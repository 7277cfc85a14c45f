package emotion

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/episodic-memory/internal/model"
)

var tenant = model.TenantKey{UserID: "u1", AgentID: "elena"}

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		text      string
		label     string
		intensity float64
	}{
		{"I am so happy and delighted today", "joy", 0.6},
		{"I feel sad and miserable", "sadness", 0.6},
		{"I'm lonely and isolated and abandoned and cut off", "loneliness", 1.0},
		{"the meeting is at noon", "neutral", 0.1},
		{"thanks", "gratitude", 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			r, err := KeywordClassifier{}.Classify(context.Background(), tt.text, tenant, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.label, r.Label)
			assert.InDelta(t, tt.intensity, r.Intensity, 1e-9)
		})
	}
}

func TestKeywordClassifierTieKeepsTableOrder(t *testing.T) {
	// one joy hit, one sadness hit: joy is listed first
	r, _ := KeywordClassifier{}.Classify(context.Background(), "happy but sad", tenant, nil)
	assert.Equal(t, "joy", r.Label)
}

type stubClassifier struct {
	r   Result
	err error
}

func (s stubClassifier) Classify(context.Context, string, model.TenantKey, []string) (Result, error) {
	return s.r, s.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	c := NewChain(stubClassifier{r: Result{Label: "contemplative", Intensity: 1.4}}, zerolog.Nop())
	r, err := c.Classify(ctx, "I am so happy", tenant, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Label: "contemplative", Intensity: 1}, r)

	c = NewChain(stubClassifier{err: errors.New("model offline")}, zerolog.Nop())
	r, err = c.Classify(ctx, "I am so happy", tenant, nil)
	require.NoError(t, err, "classification failure is never surfaced")
	assert.Equal(t, "joy", r.Label)

	c = NewChain(nil, zerolog.Nop())
	r, err = c.Classify(ctx, "plain words", tenant, nil)
	require.NoError(t, err)
	assert.Equal(t, Neutral, r)
}

func TestValenceAndWeight(t *testing.T) {
	assert.Equal(t, 2.0, Valence("very_positive"))
	assert.Less(t, Valence("sadness"), 0.0)
	assert.Greater(t, Valence("joy"), 0.0)
	assert.Equal(t, 0.0, Valence("never-heard-of-it"))

	assert.Equal(t, 0.9, Weight("very_negative"))
	assert.Equal(t, 0.3, Weight("neutral"))
	assert.Equal(t, 0.3, Weight("never-heard-of-it"))
}

func TestPolarity(t *testing.T) {
	assert.Equal(t, 1, Polarity("joy"))
	assert.Equal(t, 1, Polarity("mildly_positive"))
	assert.Equal(t, -1, Polarity("sadness"))
	assert.Equal(t, -1, Polarity("very_negative"))
	assert.Equal(t, 0, Polarity("anxious"))
	assert.Equal(t, 0, Polarity("contemplative"))
	assert.Equal(t, 0, Polarity("neutral"))
}
