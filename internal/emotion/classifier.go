// Package emotion classifies the emotional tone of an utterance.
package emotion

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rcliao/episodic-memory/internal/model"
)

// Neutral is returned when nothing emotional is found.
var Neutral = Result{Label: "neutral", Intensity: 0.1}

// Result is a primary emotion label and its intensity in [0,1].
type Result struct {
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"`
}

// Classifier labels text, optionally using the tenant's recent history.
type Classifier interface {
	Classify(ctx context.Context, text string, tenant model.TenantKey, history []string) (Result, error)
}

type pattern struct {
	label    string
	keywords []string
}

// patterns are checked in order; the first label with the most matches wins.
var patterns = []pattern{
	{"joy", []string{"happy", "joy", "delighted", "pleased", "cheerful", "elated", "ecstatic",
		"thrilled", "excited", "wonderful", "amazing", "fantastic", "great", "awesome",
		"brilliant", "perfect", "love", "adore", "celebration", "bliss", "euphoric",
		"overjoyed", "gleeful", "jubilant", "radiant", "beaming", "yay"}},
	{"sadness", []string{"sad", "unhappy", "depressed", "melancholy", "sorrowful", "grief",
		"disappointed", "heartbroken", "down", "blue", "gloomy", "miserable", "crying",
		"tragedy", "loss", "tears", "devastated", "crushed", "despair", "desolate",
		"mournful", "dejected", "forlorn", "disheartened", "crestfallen", "woeful"}},
	{"anger", []string{"angry", "mad", "furious", "rage", "irritated", "annoyed", "frustrated",
		"outraged", "livid", "incensed", "hostile", "aggressive", "hate", "disgusted",
		"appalled", "infuriated", "upset", "bothered", "irate", "enraged", "seething",
		"wrathful", "indignant", "resentful", "bitter", "raging"}},
	{"fear", []string{"afraid", "scared", "frightened", "terrified", "worried", "anxious",
		"nervous", "panic", "dread", "horror", "alarmed", "startled", "intimidated",
		"threatened", "concerned", "uneasy", "apprehensive", "petrified", "horrified",
		"panicked", "fearful", "timid", "trembling", "shaking"}},
	{"excitement", []string{"excited", "thrilled", "energetic", "enthusiastic", "pumped",
		"eager", "anticipation", "can't wait", "hyped", "electrified", "exhilarated",
		"animated", "spirited", "vivacious", "dynamic", "charged"}},
	{"gratitude", []string{"grateful", "thankful", "appreciate", "blessed", "fortunate",
		"thank you", "thanks", "indebted", "obliged", "recognition", "appreciative",
		"beholden", "grateful for", "much appreciated"}},
	{"curiosity", []string{"curious", "wondering", "interested", "intrigued", "questioning",
		"exploring", "learning", "discovery", "fascinated", "inquisitive", "puzzled",
		"perplexed", "bewildered", "inquiring", "investigative"}},
	{"surprise", []string{"surprised", "shocked", "amazed", "astonished", "bewildered",
		"stunned", "confused", "puzzled", "unexpected", "wow", "incredible",
		"unbelievable", "startling", "remarkable", "astounded", "flabbergasted",
		"dumbfounded", "taken aback"}},
	{"anxiety", []string{"anxious", "stressed", "overwhelmed", "pressure", "tension",
		"worried", "nervous", "uneasy", "restless", "troubled", "distressed",
		"frazzled", "agitated", "jittery", "on edge", "wound up"}},
	{"contentment", []string{"content", "satisfied", "peaceful", "calm", "serene", "relaxed",
		"comfortable", "at ease", "tranquil", "balanced", "fulfilled", "placid",
		"composed", "untroubled", "at peace", "mellow"}},
	{"disgust", []string{"disgusted", "gross", "eww", "revolting", "nauseating", "repulsive",
		"sickening", "appalling", "repugnant", "loathsome", "abhorrent"}},
	{"shame", []string{"ashamed", "embarrassed", "humiliated", "mortified", "shameful", "guilty",
		"regretful", "remorseful", "sheepish", "chagrined", "red-faced"}},
	{"pride", []string{"proud", "accomplished", "achievement", "triumphant", "victorious", "successful",
		"pleased with", "satisfied with", "boastful"}},
	{"loneliness", []string{"lonely", "isolated", "alone", "solitary", "abandoned", "forsaken",
		"desolate", "friendless", "cut off", "estranged"}},
}

// KeywordClassifier is the deterministic fallback: it counts keyword hits
// per emotion and scales intensity by 0.3 per hit.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(ctx context.Context, text string, _ model.TenantKey, _ []string) (Result, error) {
	lower := strings.ToLower(text)
	best, bestHits := "", 0
	for _, p := range patterns {
		hits := 0
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = p.label, hits
		}
	}
	if bestHits == 0 {
		return Neutral, nil
	}
	return Result{Label: best, Intensity: math.Min(float64(bestHits)*0.3, 1.0)}, nil
}

// Chain tries a richer classifier first and falls back to keywords. It
// never returns an error: classification failure degrades to a label.
type Chain struct {
	primary  Classifier
	fallback Classifier
	log      zerolog.Logger
}

// NewChain builds a fallback chain. A nil primary means keywords only.
func NewChain(primary Classifier, log zerolog.Logger) *Chain {
	return &Chain{primary: primary, fallback: KeywordClassifier{}, log: log}
}

func (c *Chain) Classify(ctx context.Context, text string, tenant model.TenantKey, history []string) (Result, error) {
	if c.primary != nil {
		r, err := c.primary.Classify(ctx, text, tenant, history)
		if err == nil && r.Label != "" {
			r.Intensity = clamp01(r.Intensity)
			return r, nil
		}
		if err == nil {
			err = fmt.Errorf("empty label")
		}
		c.log.Warn().Err(fmt.Errorf("%w: %v", model.ErrClassification, err)).
			Str("tenant", tenant.String()).Msg("emotion classifier failed, using keywords")
	}
	r, err := c.fallback.Classify(ctx, text, tenant, history)
	if err != nil {
		c.log.Warn().Err(err).Msg("keyword classifier failed, using neutral")
		return Neutral, nil
	}
	return r, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
