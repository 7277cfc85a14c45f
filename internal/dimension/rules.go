package dimension

import (
	"strings"

	"github.com/rcliao/episodic-memory/internal/embedding"
)

// rule labels text whose lowercase form satisfies match. Rule tables are
// evaluated in slice order, so earlier rules take priority.
type rule struct {
	label string
	match func(lower string) bool
}

func anyOf(keywords ...string) func(string) bool {
	return func(lower string) bool {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
}

func allOf(preds ...func(string) bool) func(string) bool {
	return func(lower string) bool {
		for _, p := range preds {
			if !p(lower) {
				return false
			}
		}
		return true
	}
}

// first returns the label of the first matching rule, or def.
func first(rules []rule, lower, def string) string {
	for _, r := range rules {
		if r.match(lower) {
			return r.label
		}
	}
	return def
}

// upTo returns the labels of the first max matching rules.
func upTo(rules []rule, lower string, max int) []string {
	var out []string
	for _, r := range rules {
		if len(out) == max {
			break
		}
		if r.match(lower) {
			out = append(out, r.label)
		}
	}
	return out
}

var semanticKeyRules = []rule{
	{"pet_name", allOf(anyOf("cat", "dog", "pet"), anyOf("name"))},
	{"favorite_color", anyOf("favorite color", "like color")},
	{"user_name", anyOf("my name is", "i am called")},
	{"user_location", anyOf("live in", "from", "location")},
}

var trustRules = []rule{
	{"confidential", anyOf("secret", "don't tell", "between us", "private", "confidential")},
	{"trusting", anyOf("trust you", "count on", "believe you", "rely on")},
	{"skeptical", anyOf("doubt", "unsure", "not sure", "suspicious", "questioning")},
}

var intimacyRules = []rule{
	{"intimate", anyOf("love", "relationship", "feelings", "heart", "soul", "deep inside")},
	{"deep", anyOf("worry", "fear", "dream", "hope", "struggle", "personal")},
	{"personal", anyOf("family", "friend", "work", "life", "experience")},
	{"casual", anyOf("weather", "news", "general", "how are you")},
}

var modeRules = []rule{
	{"crisis_support", anyOf("help", "emergency", "urgent", "crisis", "scared", "panic", "desperate")},
	{"educational", anyOf("learn", "explain", "teach", "understand", "how does", "what is")},
	{"emotional_support", anyOf("sad", "upset", "worried", "anxious", "depressed", "hurt")},
	{"playful", anyOf("lol", "haha", "funny", "joke", "silly", "fun", "game")},
	{"serious", anyOf("important", "serious", "formal", "business", "official")},
}

var timeRules = []rule{
	{"morning", anyOf("morning", "breakfast", "wake up", "start day")},
	{"evening", anyOf("evening", "night", "dinner", "tired", "end of day")},
	{"weekend", anyOf("weekend", "saturday", "sunday", "relax")},
	{"holiday", anyOf("holiday", "vacation", "christmas", "birthday")},
}

var traitRules = []rule{
	{"empathy", anyOf("understand", "feel", "emotion", "support", "care", "comfort")},
	{"analytical", anyOf("analyze", "think", "logic", "reason", "calculate", "data")},
	{"creative", anyOf("create", "imagine", "art", "design", "innovative", "original")},
	{"adventurous", anyOf("adventure", "explore", "travel", "risk", "exciting", "journey")},
	{"scientific", anyOf("research", "study", "experiment", "science", "theory", "hypothesis")},
	{"philosophical", anyOf("meaning", "purpose", "existence", "philosophy", "deep", "profound")},
	{"humorous", anyOf("funny", "joke", "laugh", "humor", "wit", "amusing")},
	{"protective", anyOf("protect", "safe", "security", "guard", "defend", "shield")},
	{"curious", anyOf("wonder", "question", "curious", "investigate", "discover", "learn")},
}

// SemanticKey groups facts about the same subject, e.g. every statement of
// a pet's name maps to "pet_name". Unmatched text falls back to its first
// three tokens.
func SemanticKey(content string) string {
	lower := strings.ToLower(content)
	if key := first(semanticKeyRules, lower, ""); key != "" {
		return key
	}
	tokens := embedding.Tokenize(lower)
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	if len(tokens) == 0 {
		return "general"
	}
	return strings.Join(tokens, "_")
}

// RelationshipLabel combines intimacy and trust, e.g. "intimacy_deep_trust_confidential".
func RelationshipLabel(content string) string {
	lower := strings.ToLower(content)
	return "intimacy_" + first(intimacyRules, lower, "casual") + "_trust_" + first(trustRules, lower, "neutral")
}

// SituationLabel combines conversation mode and time of day, e.g. "mode_playful_time_evening".
func SituationLabel(content string) string {
	lower := strings.ToLower(content)
	return "mode_" + first(modeRules, lower, "casual_chat") + "_time_" + first(timeRules, lower, "general")
}

// PersonalityLabel names up to two prominent traits, e.g. "traits_empathy_curious".
func PersonalityLabel(content string) string {
	traits := upTo(traitRules, strings.ToLower(content), 2)
	if len(traits) == 0 {
		traits = []string{"balanced"}
	}
	return "traits_" + strings.Join(traits, "_")
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true,
}

// Keywords returns up to 20 content words in order of appearance.
func Keywords(content string) []string {
	var out []string
	for _, w := range embedding.Tokenize(content) {
		if len(w) <= 2 || stopWords[w] {
			continue
		}
		out = append(out, w)
		if len(out) == 20 {
			break
		}
	}
	return out
}

var themeRules = []rule{
	{"relationships", anyOf("relationship", "friend", "family", "love", "partner")},
	{"emotions", anyOf("feel", "emotion", "happy", "sad", "angry", "afraid")},
	{"character_growth", anyOf("dream", "goal", "aspiration", "future", "plan")},
	{"experiences", anyOf("remember", "experience", "happened", "past")},
	{"preferences", anyOf("like", "prefer", "favorite", "enjoy", "hate")},
}

// Theme names the coarse topic of a memory cluster seeded by content.
func Theme(content string) string {
	return first(themeRules, strings.ToLower(content), "general")
}
