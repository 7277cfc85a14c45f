// Package contradiction finds stored facts that disagree with new content,
// resolves competing search hits about the same subject and groups
// memories into themed clusters.
package contradiction

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/episodic-memory/internal/config"
	"github.com/rcliao/episodic-memory/internal/dimension"
	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// Resolutions.
const (
	Replace = "replace"
	Merge   = "merge"
)

// Contradiction is a stored memory that talks about the same subject as
// new content but says something different.
type Contradiction struct {
	Existing     model.Memory `json:"existing_memory"`
	NewContent   string       `json:"new_content"`
	ConceptScore float64      `json:"semantic_score"`
	LiteralScore float64      `json:"content_similarity"`
	Confidence   float64      `json:"contradiction_confidence"`
	Resolution   string       `json:"resolution_recommendation"`
}

// SemanticKey is the subject a statement is about, e.g. "pet_name".
func SemanticKey(content string) string {
	return dimension.SemanticKey(content)
}

// IsFactual reports whether memories of kind take part in contradiction handling.
func IsFactual(k model.Kind) bool {
	return k == model.KindFact || k == model.KindPreference
}

// Detector runs contradiction checks and clustering against a backend.
type Detector struct {
	backend  vectorstore.Backend
	embedder embedding.Embedder
	cfg      config.ContradictionConfig
	log      zerolog.Logger
}

// New creates a detector.
func New(b vectorstore.Backend, e embedding.Embedder, cfg config.ContradictionConfig, log zerolog.Logger) *Detector {
	return &Detector{backend: b, embedder: e, cfg: cfg, log: log}
}

// Detect finds memories under semanticKey whose concept is close to the
// new content while their literal content is not. An empty key is derived
// from content.
func (d *Detector) Detect(ctx context.Context, t model.TenantKey, semanticKey, content string) ([]Contradiction, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, &model.ValidationError{Field: "content", Reason: "empty"}
	}
	if semanticKey == "" {
		semanticKey = SemanticKey(content)
	}

	concept, err := d.embedder.Embed(ctx, dimension.ConceptPrompt(semanticKey, content))
	if err != nil {
		return nil, fmt.Errorf("%w: concept: %v", model.ErrEmbedding, err)
	}
	literal, err := d.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("%w: content: %v", model.ErrEmbedding, err)
	}

	f := vectorstore.TenantFilter(t).With(model.FieldSemanticKey, semanticKey)
	f.Any = map[string][]string{model.FieldKind: {string(model.KindFact), string(model.KindPreference)}}
	hits, err := d.backend.RecommendContrast(ctx, vectorstore.RecommendRequest{
		Vector:      string(model.DimSemantic),
		Positive:    [][]float32{concept},
		Negative:    [][]float32{literal},
		Filter:      f,
		Limit:       10,
		WithVectors: true,
	})
	if err != nil {
		return nil, fmt.Errorf("detect contradictions: %w", err)
	}

	var out []Contradiction
	for _, h := range hits {
		mem, err := model.FromPayload(h.ID, h.Payload, h.Vectors)
		if err != nil || mem.Content == "" {
			continue
		}
		stored, ok := mem.Vectors[model.DimContent]
		if !ok {
			continue
		}
		lit := embedding.CosineSimilarity(literal, stored)
		if h.Score <= d.cfg.ConceptThreshold || lit >= d.cfg.LiteralThreshold {
			continue
		}
		res := Merge
		if mem.Confidence < d.cfg.ReplaceBelow {
			res = Replace
		}
		mem.Vectors = nil
		out = append(out, Contradiction{
			Existing:     mem,
			NewContent:   content,
			ConceptScore: h.Score,
			LiteralScore: lit,
			Confidence:   h.Score - lit,
			Resolution:   res,
		})
	}
	d.log.Debug().Str("tenant", t.String()).Str("semantic_key", semanticKey).Int("found", len(out)).Msg("contradiction check")
	return out, nil
}

// Hit is a ranked search result as seen by group resolution.
type Hit struct {
	Memory     model.Memory
	Score      float64
	Resolved   bool
	Superseded int
}

// RecencyWeight discounts older memories: 0.9 per three days, floored at 0.1.
func RecencyWeight(ageDays int) float64 {
	return math.Max(0.1, math.Pow(0.9, float64(ageDays)/3))
}

// Resolve weights every hit by recency, keeps only the best fact or
// preference per semantic key and ranks the survivors by score × confidence.
// A kept hit that beat others is marked Resolved with the count it replaced.
func Resolve(hits []Hit, now time.Time) []Hit {
	groups := map[string][]Hit{}
	var order []string
	var out []Hit
	for _, h := range hits {
		h.Score *= RecencyWeight(model.AgeDays(h.Memory.Timestamp, now))
		if !IsFactual(h.Memory.Kind) {
			out = append(out, h)
			continue
		}
		key := h.Memory.SemanticKey
		if key == "" {
			key = SemanticKey(h.Memory.Content)
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], h)
	}

	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Memory.Confidence*group[i].Score > group[j].Memory.Confidence*group[j].Score
		})
		best := group[0]
		best.Resolved = true
		best.Superseded = len(group) - 1
		out = append(out, best)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score*out[i].Memory.Confidence > out[j].Score*out[j].Memory.Confidence
	})
	return out
}

// Member is one memory of a cluster.
type Member struct {
	Memory model.Memory `json:"memory"`
	Score  float64      `json:"similarity_score,omitempty"`
	Seed   bool         `json:"is_seed"`
}

// Cluster is a group of memories similar to a seed.
type Cluster struct {
	Key     string   `json:"key"`
	Theme   string   `json:"theme"`
	Members []Member `json:"members"`
}

// ClusterReport is the outcome of one clustering run.
type ClusterReport struct {
	RunID        string    `json:"run_id"`
	Clusters     []Cluster `json:"clusters"`
	Insufficient bool      `json:"insufficient_data,omitempty"`
}

// Cluster groups the tenant's memories. Memories are taken as seeds oldest
// first; each seed collects up to ClusterSize-1 unclaimed neighbours whose
// content similarity reaches ClusterThreshold.
func (d *Detector) Cluster(ctx context.Context, t model.TenantKey) (ClusterReport, error) {
	rep := ClusterReport{RunID: uuid.NewString()}
	if err := t.Validate(); err != nil {
		return rep, err
	}
	pts, err := vectorstore.ScrollAll(ctx, d.backend, vectorstore.ScrollRequest{
		Filter:      vectorstore.TenantFilter(t),
		OrderBy:     model.FieldTimestampUnix,
		WithVectors: true,
	}, 100)
	if err != nil {
		return rep, fmt.Errorf("cluster: %w", err)
	}
	if len(pts) < 2 {
		rep.Insufficient = true
		return rep, nil
	}

	size := max(d.cfg.ClusterSize, 1)
	claimed := map[string]bool{}
	for _, p := range pts {
		if claimed[p.ID] {
			continue
		}
		seed, err := vectorstore.Decode(p)
		if err != nil {
			d.log.Warn().Err(err).Str("memory_id", p.ID).Msg("cluster: undecodable seed")
			continue
		}
		claimed[p.ID] = true
		vec := seed.Vectors[model.DimContent]
		seed.Vectors = nil

		c := Cluster{Theme: dimension.Theme(seed.Content), Members: []Member{{Memory: seed, Seed: true}}}
		if len(vec) > 0 && size > 1 {
			hits, err := d.backend.RecommendContrast(ctx, vectorstore.RecommendRequest{
				Vector:         string(model.DimContent),
				Positive:       [][]float32{vec},
				Filter:         vectorstore.TenantFilter(t),
				ScoreThreshold: vectorstore.Threshold(d.cfg.ClusterThreshold),
			})
			if err != nil {
				d.log.Warn().Err(err).Str("memory_id", p.ID).Msg("cluster: neighbour lookup")
			}
			for _, h := range hits {
				if len(c.Members) == size {
					break
				}
				if claimed[h.ID] {
					continue
				}
				mem, err := model.FromPayload(h.ID, h.Payload, nil)
				if err != nil {
					continue
				}
				claimed[h.ID] = true
				c.Members = append(c.Members, Member{Memory: mem, Score: h.Score})
			}
		}
		c.Key = fmt.Sprintf("%s_%d", c.Theme, len(rep.Clusters))
		rep.Clusters = append(rep.Clusters, c)
	}

	d.log.Info().Str("run_id", rep.RunID).Str("tenant", t.String()).Int("clusters", len(rep.Clusters)).Msg("memory clustering")
	return rep, nil
}
