package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/episodic-memory/internal/chunker"
	"github.com/rcliao/episodic-memory/internal/contradiction"
	"github.com/rcliao/episodic-memory/internal/dimension"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/significance"
	"github.com/rcliao/episodic-memory/internal/tier"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// DefaultConfidence is used when a write does not say how sure it is.
const DefaultConfidence = 0.8

const historySize = 10

// StoreParams holds parameters for storing a memory.
type StoreParams struct {
	Tenant model.TenantKey
	Kind   model.Kind
	// Content is the raw text. Long or punctuation-dense text is stored
	// as several chunk memories.
	Content string
	// Confidence in [0,1]; zero means DefaultConfidence.
	Confidence float64
	Source     string
	Metadata   map[string]any
}

func (p *StoreParams) validate() error {
	if err := p.Tenant.Validate(); err != nil {
		return err
	}
	p.Content = strings.TrimSpace(p.Content)
	if p.Content == "" {
		return &model.ValidationError{Field: "content", Reason: "empty"}
	}
	if p.Kind == "" {
		p.Kind = model.KindConversation
	}
	if !model.ValidKinds[p.Kind] {
		return &model.ValidationError{Field: "memory_kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return &model.ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", p.Confidence)}
	}
	if p.Confidence == 0 {
		p.Confidence = DefaultConfidence
	}
	return nil
}

// Store persists content for the tenant and returns its id. Identical
// content already stored for the tenant returns the existing id. Chunked
// content returns the id of the first chunk.
//
// Dedup is check-then-write: two concurrent writers of the same text can
// both miss the check and store twice. That race is accepted.
func (e *Engine) Store(ctx context.Context, p StoreParams) (string, error) {
	defer e.stats.observe("store", time.Now())
	if err := p.validate(); err != nil {
		e.stats.fail("store")
		return "", err
	}

	chunks := chunker.Chunk(p.Content, e.chunking)
	if len(chunks) <= 1 {
		id, err := e.storeOne(ctx, p, chunkInfo{})
		return id, e.counted("store", err)
	}

	group := model.NewID()
	var first string
	for _, c := range chunks {
		cp := p
		cp.Content = c.Text
		id, err := e.storeOne(ctx, cp, chunkInfo{group: group, index: c.Index, total: len(chunks)})
		if err != nil {
			e.stats.fail("store")
			return first, fmt.Errorf("store chunk %d/%d: %w", c.Index+1, len(chunks), err)
		}
		if first == "" {
			first = id
		}
	}
	e.stats.inc(statChunked)
	e.log.Debug().Str("tenant", p.Tenant.String()).Str("original_id", group).Int("chunks", len(chunks)).Msg("stored chunked content")
	return first, nil
}

type chunkInfo struct {
	group string
	index int
	total int
}

func (e *Engine) storeOne(ctx context.Context, p StoreParams, chunk chunkInfo) (string, error) {
	hash := model.ContentHash(p.Content)
	if id, ok, err := e.findByHash(ctx, p.Tenant, hash); err != nil {
		return "", fmt.Errorf("dedup lookup: %w", err)
	} else if ok {
		e.stats.inc(statDedup)
		e.log.Debug().Str("memory_id", id).Msg("duplicate content, returning existing memory")
		return id, nil
	}

	now := e.now()
	hist, histErr := e.history(ctx, p.Tenant)
	if histErr != nil {
		e.log.Warn().Err(histErr).Str("tenant", p.Tenant.String()).Msg("history unavailable, using fallback significance")
	}

	emo, _ := e.classifier.Classify(ctx, p.Content, p.Tenant, hist.Recent)
	x, err := e.extractor.Extract(ctx, p.Content, emo.Label)
	if err != nil {
		return "", err
	}

	sig := significance.Fallback()
	if histErr == nil {
		sig = significance.Score(significance.Input{
			Content:   p.Content,
			Kind:      p.Kind,
			Emotion:   emo.Label,
			Intensity: emo.Intensity,
			Timestamp: now,
		}, hist, now)
	}

	mem := model.Memory{
		ID:          model.NewID(),
		UserID:      p.Tenant.UserID,
		AgentID:     p.Tenant.AgentID,
		Kind:        p.Kind,
		Content:     p.Content,
		Timestamp:   now,
		Confidence:  p.Confidence,
		Source:      p.Source,
		ContentHash: hash,
		Tier:        tier.Initial(sig.Overall, emo.Intensity),
		Facets: model.Facets{
			Emotion:          x.Labels.Emotion,
			EmotionIntensity: emo.Intensity,
			SemanticKey:      x.Labels.SemanticKey,
			Relationship:     x.Labels.Relationship,
			Situation:        x.Labels.Situation,
			Personality:      x.Labels.Personality,
		},
		Keywords:     dimension.Keywords(p.Content),
		WordCount:    len(strings.Fields(p.Content)),
		CharCount:    utf8.RuneCountInString(p.Content),
		Significance: sig,
		OriginalID:   chunk.group,
		ChunkIndex:   chunk.index,
		TotalChunks:  chunk.total,
		Metadata:     p.Metadata,
		Vectors:      x.Vectors(),
	}

	if p.Kind == model.KindConversation {
		tr, err := e.trajectory.Analyze(ctx, p.Tenant, emo.Label)
		if err != nil {
			e.log.Warn().Err(err).Str("tenant", p.Tenant.String()).Msg("trajectory unavailable")
		} else {
			mem.Trajectory = &tr
		}
	}

	if contradiction.IsFactual(p.Kind) {
		found, err := e.detector.Detect(ctx, p.Tenant, mem.SemanticKey, p.Content)
		if err != nil {
			e.log.Warn().Err(err).Str("tenant", p.Tenant.String()).Msg("contradiction check failed")
		}
		for _, c := range found {
			e.log.Info().Str("existing_id", c.Existing.ID).Str("semantic_key", mem.SemanticKey).
				Float64("confidence", c.Confidence).Str("resolution", c.Resolution).Msg("contradiction detected")
		}
		e.stats.add(statContradictions, len(found))
	}

	if err := e.put(ctx, mem); err != nil {
		return "", err
	}
	e.stats.inc(statStored)
	e.log.Debug().Str("memory_id", mem.ID).Str("tier", string(mem.Tier)).Float64("significance", mem.Overall).
		Int("dimensions", len(mem.Vectors)).Msg("memory stored")
	return mem.ID, nil
}

// put writes with the durability wait so the caller reads its own write.
func (e *Engine) put(ctx context.Context, mem model.Memory) error {
	if len(mem.Vectors[model.DimContent]) == 0 {
		return fmt.Errorf("%w: no content vector for %s", model.ErrEmbedding, mem.ID)
	}
	pt, err := vectorstore.Encode(mem)
	if err != nil {
		return err
	}
	if err := e.backend.Upsert(ctx, pt, true); err != nil {
		return fmt.Errorf("upsert %s: %w", mem.ID, err)
	}
	return nil
}

func (e *Engine) findByHash(ctx context.Context, t model.TenantKey, hash string) (string, bool, error) {
	pts, err := e.backend.Scroll(ctx, vectorstore.ScrollRequest{
		Filter: vectorstore.TenantFilter(t).With(model.FieldContentHash, hash),
		Limit:  1,
	})
	if err != nil || len(pts) == 0 {
		return "", false, err
	}
	return pts[0].ID, true, nil
}

// history reads the tenant's latest memories for significance scoring.
func (e *Engine) history(ctx context.Context, t model.TenantKey) (significance.History, error) {
	pts, err := e.backend.Scroll(ctx, vectorstore.ScrollRequest{
		Filter:     vectorstore.TenantFilter(t),
		OrderBy:    model.FieldTimestampUnix,
		Descending: true,
		Limit:      historySize,
	})
	if err != nil {
		return significance.History{}, err
	}
	var h significance.History
	seen := map[string]int{}
	for _, p := range pts {
		text, _ := p.Payload["content"].(string)
		h.Recent = append(h.Recent, text)
		if kind, _ := p.Payload[model.FieldKind].(string); kind == string(model.KindConversation) {
			if label, _ := p.Payload["emotional_context"].(string); label != "" {
				h.Emotions = append(h.Emotions, label)
			}
		}
		for _, kw := range uniq(dimension.Keywords(text)) {
			seen[kw]++
			if seen[kw] == 2 {
				h.Themes = append(h.Themes, kw)
			}
		}
	}
	return h, nil
}

func uniq(words []string) []string {
	seen := map[string]bool{}
	out := words[:0:0]
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// Correct replaces the content, vectors and significance of a memory and
// keeps its id and tier; tier changes stay with the sweep and with
// Promote/Demote. Content that another memory of the tenant already holds
// is rejected.
func (e *Engine) Correct(ctx context.Context, t model.TenantKey, id, content, reason string) error {
	defer e.stats.observe("correct", time.Now())
	err := e.correct(ctx, t, id, content, reason)
	return e.counted("correct", err)
}

func (e *Engine) correct(ctx context.Context, t model.TenantKey, id, content, reason string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &model.ValidationError{Field: "content", Reason: "empty"}
	}
	mem, err := e.tiers.Get(ctx, t, id)
	if err != nil {
		return err
	}

	hash := model.ContentHash(content)
	if other, ok, err := e.findByHash(ctx, t, hash); err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	} else if ok && other != id {
		return &model.ValidationError{Field: "content", Reason: fmt.Sprintf("already stored as memory %s", other)}
	}

	hist, histErr := e.history(ctx, t)
	if histErr != nil {
		e.log.Warn().Err(histErr).Str("tenant", t.String()).Msg("history unavailable, keeping previous significance")
	}
	emo, _ := e.classifier.Classify(ctx, content, t, hist.Recent)
	x, err := e.extractor.Extract(ctx, content, emo.Label)
	if err != nil {
		return err
	}

	now := e.now()
	if histErr == nil {
		mem.Significance = significance.Score(significance.Input{
			Content:   content,
			Kind:      mem.Kind,
			Emotion:   emo.Label,
			Intensity: emo.Intensity,
			Timestamp: mem.Timestamp,
		}, hist, now)
	}
	mem.Content = content
	mem.ContentHash = hash
	mem.Keywords = dimension.Keywords(content)
	mem.WordCount = len(strings.Fields(content))
	mem.CharCount = utf8.RuneCountInString(content)
	mem.Facets = model.Facets{
		Emotion:          x.Labels.Emotion,
		EmotionIntensity: emo.Intensity,
		SemanticKey:      x.Labels.SemanticKey,
		Relationship:     x.Labels.Relationship,
		Situation:        x.Labels.Situation,
		Personality:      x.Labels.Personality,
	}
	mem.Vectors = x.Vectors()
	mem.Corrected = true
	mem.UpdateReason = reason
	mem.UpdatedAt = &now

	if err := e.put(ctx, mem); err != nil {
		return err
	}
	e.log.Info().Str("memory_id", id).Str("reason", reason).Float64("significance", mem.Overall).Msg("memory corrected")
	return nil
}

// Delete removes a memory owned by the tenant.
func (e *Engine) Delete(ctx context.Context, t model.TenantKey, id string) error {
	defer e.stats.observe("delete", time.Now())
	if _, err := e.tiers.Get(ctx, t, id); err != nil {
		e.stats.fail("delete")
		return err
	}
	if err := e.backend.Delete(ctx, id); err != nil {
		e.stats.fail("delete")
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
