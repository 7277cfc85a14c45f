// Package dimension derives the six facets of a memory and embeds each
// facet as its own named vector.
package dimension

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/model"
)

// Labels are the categorical facet labels of one text.
type Labels struct {
	Emotion      string
	SemanticKey  string
	Relationship string
	Situation    string
	Personality  string
}

// Classify derives every facet label. emotion comes from the emotion
// classifier; the rest are rule tables and cannot fail.
func Classify(content, emotion string) Labels {
	if emotion == "" {
		emotion = "neutral"
	}
	return Labels{
		Emotion:      emotion,
		SemanticKey:  SemanticKey(content),
		Relationship: RelationshipLabel(content),
		Situation:    SituationLabel(content),
		Personality:  PersonalityLabel(content),
	}
}

// Prompt is the text embedded for dim: the facet label framed ahead of the
// content. The content dimension embeds the raw text.
func (l Labels) Prompt(dim model.Dimension, content string) string {
	switch dim {
	case model.DimEmotion:
		return fmt.Sprintf("emotion %s: %s", l.Emotion, content)
	case model.DimSemantic:
		return ConceptPrompt(l.SemanticKey, content)
	case model.DimRelationship:
		return fmt.Sprintf("relationship %s: %s", l.Relationship, content)
	case model.DimContext:
		return fmt.Sprintf("context %s: %s", l.Situation, content)
	case model.DimPersonality:
		return fmt.Sprintf("personality %s: %s", l.Personality, content)
	default:
		return content
	}
}

// ConceptPrompt frames content under its semantic key.
func ConceptPrompt(key, content string) string {
	return fmt.Sprintf("concept %s: %s", key, content)
}

// Facet is the embedding outcome for one dimension: a vector or the error
// that kept it from being produced.
type Facet struct {
	Dimension model.Dimension
	Vector    embedding.Vector
	Err       error
}

// OK reports whether the facet produced a vector.
func (f Facet) OK() bool { return f.Err == nil && len(f.Vector) > 0 }

// Extraction is the labels and per-dimension embeddings of one text.
type Extraction struct {
	Labels Labels
	Facets []Facet
}

// Vectors returns the dimensions that were embedded.
func (x Extraction) Vectors() map[model.Dimension][]float32 {
	out := make(map[model.Dimension][]float32, len(x.Facets))
	for _, f := range x.Facets {
		if f.OK() {
			out[f.Dimension] = f.Vector
		}
	}
	return out
}

// Missing returns the dimensions that could not be embedded.
func (x Extraction) Missing() []model.Dimension {
	var out []model.Dimension
	for _, f := range x.Facets {
		if !f.OK() {
			out = append(out, f.Dimension)
		}
	}
	return out
}

// Extractor embeds facets through an Embedder.
type Extractor struct {
	embedder embedding.Embedder
	limit    int
	log      zerolog.Logger
}

// New creates an extractor issuing at most concurrency embeddings at once.
func New(e embedding.Embedder, concurrency int, log zerolog.Logger) *Extractor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Extractor{embedder: e, limit: concurrency, log: log}
}

// Extract labels content and embeds all six dimensions in parallel. A
// failed non-content dimension is logged and left out; a failed content
// dimension fails the extraction with model.ErrEmbedding.
func (x *Extractor) Extract(ctx context.Context, content, emotion string) (Extraction, error) {
	labels := Classify(content, emotion)
	facets := make([]Facet, len(model.Dimensions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.limit)
	for i, dim := range model.Dimensions {
		g.Go(func() error {
			v, err := x.embedder.Embed(gctx, labels.Prompt(dim, content))
			if err == nil && len(v) == 0 {
				err = fmt.Errorf("empty vector")
			}
			facets[i] = Facet{Dimension: dim, Vector: v, Err: err}
			if err != nil && dim == model.DimContent {
				return fmt.Errorf("%w: %v", model.ErrEmbedding, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Extraction{Labels: labels}, err
	}

	for _, f := range facets {
		if !f.OK() {
			x.log.Warn().Err(f.Err).Str("dimension", string(f.Dimension)).Msg("facet embedding failed, dimension omitted")
		}
	}
	return Extraction{Labels: labels, Facets: facets}, nil
}
