// Package trajectory derives a tenant's emotional movement from recent
// conversation memories.
package trajectory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/emotion"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// Directions.
const (
	Stable    = "stable"
	Improving = "improving"
	Declining = "declining"
	Changing  = "changing"
)

// Momentum labels.
const (
	MomentumPositive = "positive_momentum"
	MomentumNegative = "negative_momentum"
	MomentumNeutral  = "neutral"
	MomentumMixed    = "mixed"
	MomentumShifting = "shifting"
)

// Patterns.
const (
	PatternOscillating          = "oscillating"
	PatternConsistentlyPositive = "consistently_positive"
	PatternConsistentlyNegative = "consistently_negative"
	PatternDeepThinking         = "deep_thinking"
	PatternEscalatingAnxiety    = "escalating_anxiety"
)

const (
	lookback      = 7 * 24 * time.Hour
	historyLimit  = 10
	similarLimit  = 20
	minSample     = 3
	minForPattern = 4
)

var recoveryIndicators = []string{
	"feeling better", "improved", "hopeful", "optimistic",
	"breakthrough", "progress", "getting better", "turning around",
}

// Analyzer computes trajectories on demand; it keeps no state of its own.
type Analyzer struct {
	backend  vectorstore.Backend
	embedder embedding.Embedder
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an analyzer. A nil embedder disables the similarity enhancement.
func New(b vectorstore.Backend, e embedding.Embedder, log zerolog.Logger, now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{backend: b, embedder: e, log: log, now: now}
}

// Recent returns the emotion labels of the tenant's latest conversation
// memories inside the lookback window, newest first.
func (a *Analyzer) Recent(ctx context.Context, t model.TenantKey) ([]string, error) {
	f := vectorstore.TenantFilter(t).With(model.FieldKind, string(model.KindConversation))
	f.Range = map[string]vectorstore.Range{
		model.FieldTimestampUnix: vectorstore.AtLeast(float64(a.now().Add(-lookback).UnixNano()) / 1e9),
	}
	pts, err := a.backend.Scroll(ctx, vectorstore.ScrollRequest{
		Filter:     f,
		OrderBy:    model.FieldTimestampUnix,
		Descending: true,
		Limit:      historyLimit,
	})
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(pts))
	for _, p := range pts {
		label, _ := p.Payload["emotional_context"].(string)
		if label == "" {
			label = "neutral"
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// Analyze builds the trajectory for the tenant. current is the emotion of
// the message being processed and may be empty. Backend failures are
// returned; the enhancement never fails the analysis.
func (a *Analyzer) Analyze(ctx context.Context, t model.TenantKey, current string) (model.Trajectory, error) {
	if err := t.Validate(); err != nil {
		return model.Trajectory{}, err
	}
	recent, err := a.Recent(ctx, t)
	if err != nil {
		return model.Trajectory{}, err
	}

	var tr model.Trajectory
	switch {
	case len(recent) == 0:
		tr = model.Trajectory{Velocity: 0, Stability: 1, Direction: Stable, Momentum: MomentumNeutral}
		if current != "" {
			tr.Emotions = []string{current}
		}
	case len(recent) == 1:
		tr = model.Trajectory{Emotions: recent, Stability: 1, Direction: Stable, Momentum: MomentumNeutral}
		if current != "" && current != recent[0] {
			tr = model.Trajectory{
				Emotions:  []string{recent[0], current},
				Velocity:  0.3,
				Stability: 0.7,
				Direction: Changing,
				Momentum:  MomentumShifting,
			}
		}
	default:
		v := Velocity(recent)
		tr = model.Trajectory{
			Emotions:  recent,
			Velocity:  v,
			Stability: Stability(recent),
			Direction: Direction(recent),
			Momentum:  Momentum(v),
			Pattern:   DetectPattern(recent),
		}
	}

	probe := current
	if probe == "" && len(recent) > 0 {
		probe = recent[0]
	}
	if probe != "" {
		tr.Enhanced = a.enhance(ctx, t, probe)
	}
	return tr, nil
}

// enhance looks at past memories with a similar emotion vector. It returns
// nil when the lookup fails or finds too few memories.
func (a *Analyzer) enhance(ctx context.Context, t model.TenantKey, label string) *model.TrajectoryEnhancement {
	if a.embedder == nil {
		return nil
	}
	vec, err := a.embedder.Embed(ctx, "emotion "+label)
	if err != nil {
		a.log.Debug().Err(err).Msg("trajectory enhancement: embed")
		return nil
	}
	res, err := a.backend.Search(ctx, vectorstore.SearchRequest{
		Vector: string(model.DimEmotion),
		Query:  vec,
		Filter: vectorstore.TenantFilter(t).With(model.FieldKind, string(model.KindConversation)),
		Limit:  similarLimit,
	})
	if err != nil {
		a.log.Debug().Err(err).Msg("trajectory enhancement: search")
		return nil
	}
	if len(res) < minSample {
		return nil
	}

	var emotions, contexts []string
	recovered := 0
	for _, r := range res {
		if e, _ := r.Payload["emotional_context"].(string); e != "" {
			emotions = append(emotions, e)
		}
		if c, _ := r.Payload["context_situation"].(string); c != "" {
			contexts = append(contexts, c)
		}
		content, _ := r.Payload["content"].(string)
		if isRecovery(content) {
			recovered++
		}
	}
	n := float64(len(res))
	out := &model.TrajectoryEnhancement{
		SampleSize:         len(res),
		RecoveryLikelihood: float64(recovered) / n,
		DominantEmotions:   topLabels(emotions, 3),
		Confidence:         math.Min(1, (math.Min(n/15, 1)+0.8+0.7)/3),
	}
	if top := topLabels(contexts, 1); len(top) > 0 {
		out.DominantContext = top[0]
	}
	return out
}

func isRecovery(content string) bool {
	lower := strings.ToLower(content)
	for _, ind := range recoveryIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// topLabels returns the n most frequent labels, first seen wins ties.
func topLabels(labels []string, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, l := range labels {
		if l == "unknown" {
			continue
		}
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Velocity is the mean change in valence between consecutive labels, in
// chronological order. labels are newest first, so a positive value means
// the tenant is feeling better.
func Velocity(labels []string) float64 {
	if len(labels) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(labels); i++ {
		sum += emotion.Valence(labels[i-1]) - emotion.Valence(labels[i])
	}
	return sum / float64(len(labels)-1)
}

// Stability is 1 − stdev/2 of the label valences, floored at 0.
func Stability(labels []string) float64 {
	if len(labels) < 2 {
		return 1
	}
	var mean float64
	for _, l := range labels {
		mean += emotion.Valence(l)
	}
	mean /= float64(len(labels))
	var variance float64
	for _, l := range labels {
		d := emotion.Valence(l) - mean
		variance += d * d
	}
	variance /= float64(len(labels))
	return math.Max(0, 1-math.Sqrt(variance)/2)
}

// Direction compares the newest three labels against the older ones.
func Direction(labels []string) string {
	if len(labels) < 3 {
		return Stable
	}
	var recent, older float64
	for i, l := range labels {
		if i < 3 {
			recent += emotion.Valence(l)
		} else {
			older += emotion.Valence(l)
		}
	}
	diff := recent/3 - older/float64(max(1, len(labels)-3))
	switch {
	case diff > 0.3:
		return Improving
	case diff < -0.3:
		return Declining
	default:
		return Stable
	}
}

// Momentum labels a velocity.
func Momentum(velocity float64) string {
	switch {
	case velocity > 0.5:
		return MomentumPositive
	case velocity < -0.5:
		return MomentumNegative
	case math.Abs(velocity) < 0.1:
		return MomentumNeutral
	default:
		return MomentumMixed
	}
}

// DetectPattern recognizes a few shapes in at least four labels, newest first.
func DetectPattern(labels []string) string {
	if len(labels) < minForPattern {
		return ""
	}
	crossings := 0
	for i := 1; i < len(labels); i++ {
		if emotion.Polarity(labels[i-1])*emotion.Polarity(labels[i]) < 0 {
			crossings++
		}
	}
	if crossings >= len(labels)/2 {
		return PatternOscillating
	}

	head := labels[:3]
	switch {
	case all(head, func(l string) bool { return emotion.Polarity(l) > 0 }):
		return PatternConsistentlyPositive
	case all(head, func(l string) bool { return emotion.Polarity(l) < 0 }):
		return PatternConsistentlyNegative
	case all(head, func(l string) bool { return l == "contemplative" }):
		return PatternDeepThinking
	case all(head, func(l string) bool { return l == "anxious" || l == "anxiety" }):
		return PatternEscalatingAnxiety
	}
	return ""
}

func all(labels []string, pred func(string) bool) bool {
	for _, l := range labels {
		if !pred(l) {
			return false
		}
	}
	return true
}
