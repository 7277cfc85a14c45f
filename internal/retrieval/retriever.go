// Package retrieval ranks a tenant's memories for a query: recency lookups
// for temporal questions, weighted multi-dimension search, a threshold
// cascade for single-dimension search, fidelity-first selection and
// contradiction-aware resolution of competing facts.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/episodic-memory/internal/config"
	"github.com/rcliao/episodic-memory/internal/contradiction"
	"github.com/rcliao/episodic-memory/internal/dimension"
	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/emotion"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// Search modes.
const (
	ModeTemporal = "temporal"
	ModeSingle   = "single_dimension"
	ModeMulti    = "multi_dimension"
	ModeFidelity = "fidelity_first"
)

// Selection tiers of fidelity-first results.
const (
	TierRecent  = "recent"
	TierDomain  = "domain"
	TierGeneral = "general"
)

const (
	recentWindow   = 24 * time.Hour
	domainCutoff   = 0.5
	baseBlend      = 0.7
	relevanceBlend = 0.3
	keywordWeight  = 0.6
	kindWeight     = 0.4
	overFetch      = 3
)

// Request is one search.
type Request struct {
	Tenant model.TenantKey
	// Query is the text searched for. It drives temporal detection and is
	// embedded for every weighted dimension without a vector in Vectors.
	Query string
	// Vectors are precomputed query vectors per dimension.
	Vectors map[model.Dimension][]float32
	// Weights per dimension; normalized before use. Empty means content only.
	Weights map[model.Dimension]float64
	Limit   int
	Kind    model.Kind
	Since   time.Time
	// Fidelity over-fetches and selects by recency and persona relevance.
	Fidelity bool
	// Resolve keeps only the best fact or preference per semantic key.
	Resolve bool
}

// Result is one ranked memory with the annotations of the mode that found it.
type Result struct {
	Memory          model.Memory                `json:"memory"`
	Score           float64                     `json:"score"`
	ThresholdUsed   *float64                    `json:"threshold_used,omitempty"`
	TemporalRank    int                         `json:"temporal_rank,omitempty"`
	DimensionScores map[model.Dimension]float64 `json:"dimension_scores,omitempty"`
	DomainRelevance float64                     `json:"domain_relevance,omitempty"`
	SelectionTier   string                      `json:"selection_tier,omitempty"`
	Resolved        bool                        `json:"contradiction_resolved,omitempty"`
	Superseded      int                         `json:"superseded_count,omitempty"`
}

// Response is the ranked results and the mode that produced them.
type Response struct {
	Mode    string   `json:"mode"`
	Results []Result `json:"results"`
}

// Options configures a Retriever.
type Options struct {
	Backend     vectorstore.Backend
	Embedder    embedding.Embedder
	Classifier  emotion.Classifier
	Config      config.RetrievalConfig
	Personas    map[string][]string
	Concurrency int
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Retriever is the read path. Backend and embedding failures never reach
// the caller: they degrade to fewer or no results.
type Retriever struct {
	backend     vectorstore.Backend
	embedder    embedding.Embedder
	classifier  emotion.Classifier
	cfg         config.RetrievalConfig
	personas    map[string][]string
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// New creates a retriever.
func New(o Options) *Retriever {
	if o.Classifier == nil {
		o.Classifier = emotion.KeywordClassifier{}
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Retriever{
		backend:     o.Backend,
		embedder:    o.Embedder,
		classifier:  o.Classifier,
		cfg:         o.Config,
		personas:    o.Personas,
		concurrency: o.Concurrency,
		log:         o.Logger,
		now:         o.Now,
	}
}

// Search runs the request. Only validation errors are returned.
func (r *Retriever) Search(ctx context.Context, req Request) (Response, error) {
	if err := req.Tenant.Validate(); err != nil {
		return Response{}, err
	}
	weights, err := NormalizeWeights(req.Weights)
	if err != nil {
		return Response{}, err
	}
	if req.Query == "" && len(req.Vectors) == 0 {
		return Response{}, &model.ValidationError{Field: "query", Reason: "empty"}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	if limit <= 0 {
		limit = 10
	}

	if req.Query != "" && IsTemporal(req.Query, r.cfg.TemporalTriggers) {
		if res := r.temporal(ctx, req.Tenant, limit); len(res) > 0 {
			return Response{Mode: ModeTemporal, Results: res}, nil
		}
		r.log.Debug().Str("tenant", req.Tenant.String()).Msg("no recent conversation, falling back to semantic search")
	}

	// Fidelity selection and contradiction resolution both drop hits, so
	// they start from a larger pool and truncate at the end.
	fetch := limit
	if req.Fidelity || req.Resolve {
		fetch = min(limit*overFetch, max(r.cfg.FidelityCap, limit))
	}

	resp := Response{Mode: ModeSingle}
	if len(weights) > 1 {
		resp.Mode = ModeMulti
		resp.Results = r.multi(ctx, req, weights, fetch)
	} else {
		var dim model.Dimension
		for d := range weights {
			dim = d
		}
		if req.Fidelity {
			resp.Results = r.single(ctx, req, dim, fetch, nil)
		} else {
			resp.Results = r.cascade(ctx, req, dim, fetch)
		}
	}

	if req.Fidelity {
		resp.Mode = ModeFidelity
		resp.Results = r.fidelity(resp.Results, req.Tenant, limit)
	}
	if req.Resolve {
		resp.Results = resolve(resp.Results, r.now())
	}
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp, nil
}

// NormalizeWeights scales weights to sum to one and drops zero entries.
// Empty weights mean content only.
func NormalizeWeights(w map[model.Dimension]float64) (map[model.Dimension]float64, error) {
	var sum float64
	for d, v := range w {
		if !model.ValidDimension(d) {
			return nil, &model.ValidationError{Field: "weights", Reason: fmt.Sprintf("unknown dimension %q", d)}
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &model.ValidationError{Field: "weights", Reason: fmt.Sprintf("bad weight %v for %s", v, d)}
		}
		sum += v
	}
	if sum == 0 {
		return map[model.Dimension]float64{model.DimContent: 1}, nil
	}
	out := make(map[model.Dimension]float64, len(w))
	for d, v := range w {
		if v > 0 {
			out[d] = v / sum
		}
	}
	return out, nil
}

// IsTemporal reports whether query asks about what was said recently.
// Multi-word triggers match as phrases, single words as whole tokens.
func IsTemporal(query string, triggers []string) bool {
	lower := strings.ToLower(query)
	tokens := map[string]bool{}
	for _, tok := range embedding.Tokenize(lower) {
		tokens[tok] = true
	}
	for _, trig := range triggers {
		trig = strings.ToLower(strings.TrimSpace(trig))
		if trig == "" {
			continue
		}
		if strings.Contains(trig, " ") {
			if strings.Contains(lower, trig) {
				return true
			}
		} else if tokens[trig] {
			return true
		}
	}
	return false
}

func (r *Retriever) filter(req Request) vectorstore.Filter {
	f := vectorstore.TenantFilter(req.Tenant)
	if req.Kind != "" {
		f = f.With(model.FieldKind, string(req.Kind))
	}
	if !req.Since.IsZero() {
		f.Range = map[string]vectorstore.Range{
			model.FieldTimestampUnix: vectorstore.AtLeast(float64(req.Since.Unix())),
		}
	}
	return f
}

func (r *Retriever) temporal(ctx context.Context, t model.TenantKey, limit int) []Result {
	window := r.cfg.TemporalWindow
	if window <= 0 {
		window = 2 * time.Hour
	}
	f := vectorstore.TenantFilter(t).With(model.FieldKind, string(model.KindConversation))
	f.Range = map[string]vectorstore.Range{
		model.FieldTimestampUnix: vectorstore.AtLeast(float64(r.now().Add(-window).Unix())),
	}
	pts, err := r.backend.Scroll(ctx, vectorstore.ScrollRequest{
		Filter:     f,
		OrderBy:    model.FieldTimestampUnix,
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("tenant", t.String()).Msg("temporal lookup failed")
		return nil
	}
	out := make([]Result, 0, len(pts))
	for _, p := range pts {
		m, err := vectorstore.Decode(p)
		if err != nil {
			r.log.Warn().Err(err).Str("memory_id", p.ID).Msg("skipping undecodable memory")
			continue
		}
		rank := len(out) + 1
		out = append(out, Result{Memory: m, Score: 1 / float64(rank), TemporalRank: rank})
	}
	return out
}

// queryVector returns the caller's vector for dim or embeds the framed query.
func (r *Retriever) queryVector(ctx context.Context, req Request, dim model.Dimension) ([]float32, error) {
	if v, ok := req.Vectors[dim]; ok && len(v) > 0 {
		return v, nil
	}
	if req.Query == "" {
		return nil, fmt.Errorf("no query vector for %s", dim)
	}
	prompt := req.Query
	if dim != model.DimContent {
		res, err := r.classifier.Classify(ctx, req.Query, req.Tenant, nil)
		if err != nil {
			res = emotion.Neutral
		}
		prompt = dimension.Classify(req.Query, res.Label).Prompt(dim, req.Query)
	}
	v, err := r.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEmbedding, err)
	}
	return v, nil
}

func (r *Retriever) single(ctx context.Context, req Request, dim model.Dimension, limit int, threshold *float64) []Result {
	vec, err := r.queryVector(ctx, req, dim)
	if err != nil {
		r.log.Warn().Err(err).Str("dimension", string(dim)).Msg("query embedding failed")
		return nil
	}
	res, err := r.search(ctx, req, dim, vec, limit, threshold)
	if err != nil {
		r.log.Warn().Err(err).Str("dimension", string(dim)).Msg("search failed")
		return nil
	}
	return res
}

func (r *Retriever) search(ctx context.Context, req Request, dim model.Dimension, vec []float32, limit int, threshold *float64) ([]Result, error) {
	hits, err := r.backend.Search(ctx, vectorstore.SearchRequest{
		Vector:         string(dim),
		Query:          vec,
		Filter:         r.filter(req),
		Limit:          limit,
		ScoreThreshold: threshold,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		m, err := model.FromPayload(h.ID, h.Payload, nil)
		if err != nil {
			r.log.Warn().Err(err).Str("memory_id", h.ID).Msg("skipping undecodable memory")
			continue
		}
		out = append(out, Result{Memory: m, Score: h.Score})
	}
	return out, nil
}

// cascade lowers the score threshold step by step until something matches.
func (r *Retriever) cascade(ctx context.Context, req Request, dim model.Dimension, limit int) []Result {
	vec, err := r.queryVector(ctx, req, dim)
	if err != nil {
		r.log.Warn().Err(err).Str("dimension", string(dim)).Msg("query embedding failed")
		return nil
	}
	for _, th := range r.cfg.FallbackThresholds {
		res, err := r.search(ctx, req, dim, vec, limit, vectorstore.Threshold(th))
		if err != nil {
			r.log.Warn().Err(err).Float64("threshold", th).Msg("search failed, trying next threshold")
			continue
		}
		if len(res) == 0 {
			continue
		}
		for i := range res {
			res[i].ThresholdUsed = vectorstore.Threshold(th)
		}
		r.log.Debug().Float64("threshold", th).Int("results", len(res)).Msg("cascade matched")
		return res
	}
	return nil
}

// multi searches every weighted dimension in parallel and merges by id.
// A failing dimension contributes nothing.
func (r *Retriever) multi(ctx context.Context, req Request, weights map[model.Dimension]float64, limit int) []Result {
	dims := make([]model.Dimension, 0, len(weights))
	for _, d := range model.Dimensions {
		if weights[d] > 0 {
			dims = append(dims, d)
		}
	}
	perDim := make([][]Result, len(dims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, dim := range dims {
		g.Go(func() error {
			vec, err := r.queryVector(gctx, req, dim)
			if err != nil {
				r.log.Warn().Err(err).Str("dimension", string(dim)).Msg("query embedding failed, dimension skipped")
				return nil
			}
			res, err := r.search(gctx, req, dim, vec, limit*2, nil)
			if err != nil {
				r.log.Warn().Err(err).Str("dimension", string(dim)).Msg("dimension search failed, skipped")
				return nil
			}
			perDim[i] = res
			return nil
		})
	}
	_ = g.Wait()

	merged := map[string]*Result{}
	for i, dim := range dims {
		for _, res := range perDim[i] {
			m, ok := merged[res.Memory.ID]
			if !ok {
				m = &Result{Memory: res.Memory, DimensionScores: map[model.Dimension]float64{}}
				merged[res.Memory.ID] = m
			}
			m.Score += res.Score * weights[dim]
			m.DimensionScores[dim] = res.Score
		}
	}
	out := make([]Result, 0, len(merged))
	for _, m := range merged {
		out = append(out, *m)
	}
	sortByScore(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Relevance scores a memory against the agent's persona vocabulary:
// keyword share × 0.6 plus a kind weight × 0.4.
func Relevance(m model.Memory, keywords []string) float64 {
	var kw float64
	if len(keywords) > 0 {
		lower := strings.ToLower(m.Content)
		hits := 0
		for _, k := range keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				hits++
			}
		}
		kw = math.Min(float64(hits)/float64(len(keywords)), 1)
	}
	kind := 0.5
	if m.Kind == model.KindConversation || m.Kind == model.KindRelationship {
		kind = 1
	}
	return kw*keywordWeight + kind*kindWeight
}

// fidelity blends similarity with persona relevance, then fills the budget
// with recent memories (at most half), domain-relevant ones and the rest.
func (r *Retriever) fidelity(res []Result, t model.TenantKey, limit int) []Result {
	keywords := r.personas[t.AgentID]
	now := r.now()
	var recent, domain, general []Result
	for i := range res {
		rel := Relevance(res[i].Memory, keywords)
		res[i].DomainRelevance = rel
		res[i].Score = res[i].Score*baseBlend + rel*relevanceBlend
	}
	sortByScore(res)
	for _, x := range res {
		switch {
		case now.Sub(x.Memory.Timestamp) < recentWindow:
			x.SelectionTier = TierRecent
			recent = append(recent, x)
		case x.DomainRelevance > domainCutoff:
			x.SelectionTier = TierDomain
			domain = append(domain, x)
		default:
			x.SelectionTier = TierGeneral
			general = append(general, x)
		}
	}
	if len(res) <= limit {
		out := append(append(recent, domain...), general...)
		sortByScore(out)
		return out
	}

	take := func(from []Result, n int) ([]Result, []Result) {
		n = min(n, len(from))
		return from[:n], from[n:]
	}
	var out, picked []Result
	picked, recent = take(recent, limit/2)
	out = append(out, picked...)
	picked, _ = take(domain, limit-len(out))
	out = append(out, picked...)
	picked, _ = take(general, limit-len(out))
	out = append(out, picked...)
	picked, _ = take(recent, limit-len(out))
	out = append(out, picked...)
	return out
}

func resolve(res []Result, now time.Time) []Result {
	hits := make([]contradiction.Hit, len(res))
	byID := make(map[string]Result, len(res))
	for i, x := range res {
		hits[i] = contradiction.Hit{Memory: x.Memory, Score: x.Score}
		byID[x.Memory.ID] = x
	}
	resolved := contradiction.Resolve(hits, now)
	out := make([]Result, 0, len(resolved))
	for _, h := range resolved {
		x := byID[h.Memory.ID]
		x.Score = h.Score
		x.Resolved = h.Resolved
		x.Superseded = h.Superseded
		out = append(out, x)
	}
	return out
}

func sortByScore(res []Result) {
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		return res[i].Memory.ID < res[j].Memory.ID
	})
}
