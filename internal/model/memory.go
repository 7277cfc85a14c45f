// Package model defines the core memory data types.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind classifies what a memory records.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindFact         Kind = "fact"
	KindContext      Kind = "context"
	KindCorrection   Kind = "correction"
	KindRelationship Kind = "relationship"
	KindPreference   Kind = "preference"
)

// ValidKinds are the allowed memory kinds.
var ValidKinds = map[Kind]bool{
	KindConversation: true,
	KindFact:         true,
	KindContext:      true,
	KindCorrection:   true,
	KindRelationship: true,
	KindPreference:   true,
}

// ParseKind validates a kind string. Empty means conversation.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindConversation, nil
	}
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !ValidKinds[k] {
		return "", &ValidationError{Field: "memory_kind", Reason: fmt.Sprintf("unknown kind %q", s)}
	}
	return k, nil
}

// Tier is the retention class of a memory.
type Tier string

const (
	TierShort  Tier = "short_term"
	TierMedium Tier = "medium_term"
	TierLong   Tier = "long_term"
)

// ValidTiers are the allowed tiers.
var ValidTiers = map[Tier]bool{
	TierShort:  true,
	TierMedium: true,
	TierLong:   true,
}

// Dimension names one of the independently indexed vectors of a memory.
type Dimension string

const (
	DimContent      Dimension = "content"
	DimEmotion      Dimension = "emotion"
	DimSemantic     Dimension = "semantic"
	DimRelationship Dimension = "relationship"
	DimContext      Dimension = "context"
	DimPersonality  Dimension = "personality"
)

// Dimensions lists every named vector in a fixed order.
var Dimensions = []Dimension{
	DimContent, DimEmotion, DimSemantic, DimRelationship, DimContext, DimPersonality,
}

// ValidDimension reports whether d is one of the known named vectors.
func ValidDimension(d Dimension) bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// TenantKey scopes all memory visibility to one end user talking to one agent.
type TenantKey struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

// NewTenantKey builds a tenant key with a normalized agent id.
func NewTenantKey(userID, agentID string) (TenantKey, error) {
	t := TenantKey{UserID: strings.TrimSpace(userID), AgentID: NormalizeAgentID(agentID)}
	if err := t.Validate(); err != nil {
		return TenantKey{}, err
	}
	return t, nil
}

// Validate rejects keys that would leak across tenants.
func (t TenantKey) Validate() error {
	if t.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if t.AgentID == "" || t.AgentID != NormalizeAgentID(t.AgentID) {
		return &ValidationError{Field: "agent_id", Reason: fmt.Sprintf("not normalized: %q", t.AgentID)}
	}
	return nil
}

func (t TenantKey) String() string {
	return t.UserID + "/" + t.AgentID
}

var (
	spaceRun   = regexp.MustCompile(`\s+`)
	invalidRun = regexp.MustCompile(`[^a-z0-9_-]`)
	sepRun     = regexp.MustCompile(`[_-]+`)
)

// NormalizeAgentID folds case and spacing variants of an agent name onto
// one id: "Elena Rodriguez" and "elena_rodriguez" are the same tenant.
func NormalizeAgentID(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = spaceRun.ReplaceAllString(s, "_")
	s = invalidRun.ReplaceAllString(s, "")
	s = sepRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")
	if s == "" {
		return "unknown"
	}
	return s
}

// Facets are the categorical labels the extractor derives from the text.
type Facets struct {
	Emotion          string  `json:"emotional_context"`
	EmotionIntensity float64 `json:"emotional_intensity"`
	SemanticKey      string  `json:"semantic_key"`
	Relationship     string  `json:"relationship_context"`
	Situation        string  `json:"context_situation"`
	Personality      string  `json:"personality_prominence"`
}

// SignificanceFactors is the per-factor breakdown of a significance score.
type SignificanceFactors struct {
	EmotionalIntensity  float64 `json:"emotional_intensity"`
	PersonalRelevance   float64 `json:"personal_relevance"`
	Uniqueness          float64 `json:"uniqueness"`
	TemporalImportance  float64 `json:"temporal_importance"`
	InteractionValue    float64 `json:"interaction_value"`
	PatternSignificance float64 `json:"pattern_significance"`
}

// Significance is the importance of a memory and how well it resists decay.
type Significance struct {
	Overall         float64             `json:"overall_significance"`
	Factors         SignificanceFactors `json:"significance_factors"`
	Label           string              `json:"significance_tier"`
	DecayResistance float64             `json:"decay_resistance"`
}

// Significance labels.
const (
	SignificanceCritical = "critical"
	SignificanceHigh     = "high"
	SignificanceStandard = "standard"
	SignificanceLow      = "low"
	SignificanceMinimal  = "minimal"
)

// SignificanceLabel maps an overall score onto the fixed label table.
func SignificanceLabel(overall float64) string {
	switch {
	case overall >= 0.8:
		return SignificanceCritical
	case overall >= 0.6:
		return SignificanceHigh
	case overall >= 0.4:
		return SignificanceStandard
	case overall >= 0.2:
		return SignificanceLow
	default:
		return SignificanceMinimal
	}
}

// Trajectory is a snapshot of a tenant's recent emotional movement.
type Trajectory struct {
	Emotions  []string               `json:"trajectory"`
	Velocity  float64                `json:"emotional_velocity"`
	Stability float64                `json:"emotional_stability"`
	Direction string                 `json:"trajectory_direction"`
	Momentum  string                 `json:"emotional_momentum"`
	Pattern   string                 `json:"pattern_detected,omitempty"`
	Enhanced  *TrajectoryEnhancement `json:"vector_enhancement,omitempty"`
}

// TrajectoryEnhancement is the advisory signal derived from emotionally
// similar past memories. It is absent when the lookup failed or was too thin.
type TrajectoryEnhancement struct {
	SampleSize         int      `json:"sample_size"`
	RecoveryLikelihood float64  `json:"recovery_likelihood"`
	DominantEmotions   []string `json:"dominant_emotions"`
	DominantContext    string   `json:"dominant_context,omitempty"`
	Confidence         float64  `json:"confidence"`
}

// ProtectionEvent is one entry of the decay protection audit trail.
type ProtectionEvent struct {
	Action string    `json:"action"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Memory is one stored record: text, derived labels, lifecycle state and
// its named vectors. Everything but ID and Vectors travels as payload.
type Memory struct {
	ID          string    `json:"-"`
	UserID      string    `json:"user_id"`
	AgentID     string    `json:"agent_id"`
	Kind        Kind      `json:"memory_type"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source,omitempty"`
	ContentHash string    `json:"content_hash"`
	Tier        Tier      `json:"memory_tier"`

	Facets
	Keywords  []string `json:"keywords,omitempty"`
	WordCount int      `json:"word_count"`
	CharCount int      `json:"char_count"`

	Significance
	Trajectory *Trajectory `json:"emotional_trajectory,omitempty"`

	TierPromotionDate   *time.Time `json:"tier_promotion_date,omitempty"`
	TierPromotionReason string     `json:"tier_promotion_reason,omitempty"`
	TierDemotionDate    *time.Time `json:"tier_demotion_date,omitempty"`
	TierDemotionReason  string     `json:"tier_demotion_reason,omitempty"`
	LastDecayUpdate     *time.Time `json:"last_decay_update,omitempty"`

	DecayProtection   bool              `json:"decay_protection"`
	ProtectionReason  string            `json:"protection_reason,omitempty"`
	ProtectionDate    *time.Time        `json:"protection_date,omitempty"`
	ProtectionHistory []ProtectionEvent `json:"protection_history,omitempty"`

	OriginalID  string `json:"original_id,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`

	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	UpdateReason string     `json:"update_reason,omitempty"`
	Corrected    bool       `json:"corrected,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Vectors map[Dimension][]float32 `json:"-"`
}

// Tenant returns the memory's tenant key.
func (m Memory) Tenant() TenantKey {
	return TenantKey{UserID: m.UserID, AgentID: m.AgentID}
}

// TierChangedAt is the start of the memory's stay in its current tier.
func (m Memory) TierChangedAt() time.Time {
	at := m.Timestamp
	if m.TierPromotionDate != nil && m.TierPromotionDate.After(at) {
		at = *m.TierPromotionDate
	}
	if m.TierDemotionDate != nil && m.TierDemotionDate.After(at) {
		at = *m.TierDemotionDate
	}
	return at
}

// AgeDays is the number of whole days between from and now.
func AgeDays(from, now time.Time) int {
	if now.Before(from) {
		return 0
	}
	return int(now.Sub(from).Hours() / 24)
}

// NewID returns a new sortable unique id.
func NewID() string {
	return ulid.Make().String()
}
