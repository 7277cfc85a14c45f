// Package engine is the episodic memory facade: it owns the write path and
// exposes retrieval, lifecycle jobs, trajectory and contradiction analysis
// over one vector backend.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/episodic-memory/internal/chunker"
	"github.com/rcliao/episodic-memory/internal/config"
	"github.com/rcliao/episodic-memory/internal/contradiction"
	"github.com/rcliao/episodic-memory/internal/dimension"
	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/emotion"
	"github.com/rcliao/episodic-memory/internal/logging"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/retrieval"
	"github.com/rcliao/episodic-memory/internal/tier"
	"github.com/rcliao/episodic-memory/internal/trajectory"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// Options wires an Engine. Backend and Embedder are required.
type Options struct {
	Backend    vectorstore.Backend
	Embedder   embedding.Embedder
	Classifier emotion.Classifier
	Config     config.Config
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Engine stores and recalls memories for many tenants. It holds no
// per-tenant state and is safe for concurrent use.
type Engine struct {
	backend    vectorstore.Backend
	embedder   embedding.Embedder
	classifier emotion.Classifier
	extractor  *dimension.Extractor
	tiers      *tier.Manager
	trajectory *trajectory.Analyzer
	detector   *contradiction.Detector
	retriever  *retrieval.Retriever
	chunking   chunker.Options
	cfg        config.Config
	log        zerolog.Logger
	now        func() time.Time
	stats      *stats
}

// New builds an engine from ready collaborators. The backend collection
// must already exist.
func New(o Options) *Engine {
	if o.Now == nil {
		o.Now = time.Now
	}
	classifier := emotion.NewChain(o.Classifier, logging.Component(o.Logger, "emotion"))
	return &Engine{
		backend:    o.Backend,
		embedder:   o.Embedder,
		classifier: classifier,
		extractor:  dimension.New(o.Embedder, o.Config.Concurrency, logging.Component(o.Logger, "extractor")),
		tiers:      tier.New(o.Backend, o.Config.Tier, logging.Component(o.Logger, "tier"), o.Now),
		trajectory: trajectory.New(o.Backend, o.Embedder, logging.Component(o.Logger, "trajectory"), o.Now),
		detector:   contradiction.New(o.Backend, o.Embedder, o.Config.Contradiction, logging.Component(o.Logger, "contradiction")),
		retriever: retrieval.New(retrieval.Options{
			Backend:     o.Backend,
			Embedder:    o.Embedder,
			Classifier:  classifier,
			Config:      o.Config.Retrieval,
			Personas:    o.Config.PersonaKeywords,
			Concurrency: o.Config.Concurrency,
			Logger:      logging.Component(o.Logger, "retrieval"),
			Now:         o.Now,
		}),
		chunking: chunker.DefaultOptions(),
		cfg:      o.Config,
		log:      logging.Component(o.Logger, "writer"),
		now:      o.Now,
		stats:    newStats(),
	}
}

// Open builds the embedder and backend named by cfg, creates the collection
// with one vector space per dimension and returns the engine.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Engine, error) {
	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	b, err := vectorstore.Open(cfg.Backend, cfg.DBPath)
	if err != nil {
		if c, ok := emb.(*embedding.Cached); ok {
			c.Close()
		}
		return nil, fmt.Errorf("backend: %w", err)
	}
	b = vectorstore.WithTimeout(b, cfg.BackendTimeout)

	dims := cfg.Embedding.Dims
	if dims <= 0 {
		dims = emb.Dims()
	}
	spaces := make(map[string]vectorstore.VectorParams, len(model.Dimensions))
	for _, d := range model.Dimensions {
		spaces[string(d)] = vectorstore.VectorParams{Size: dims, Metric: vectorstore.Cosine}
	}
	if err := b.EnsureCollection(ctx, spaces); err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	log.Info().Str("backend", cfg.Backend).Str("embedding", cfg.Embedding.Provider).Int("dims", dims).Msg("engine ready")
	return New(Options{Backend: b, Embedder: emb, Config: cfg, Logger: log}), nil
}

// Close releases the backend and the embedding cache.
func (e *Engine) Close() error {
	if c, ok := e.embedder.(*embedding.Cached); ok {
		c.Close()
	}
	return e.backend.Close()
}

// Search runs a retrieval request. Backend trouble yields fewer results,
// never an error.
func (e *Engine) Search(ctx context.Context, req retrieval.Request) (retrieval.Response, error) {
	defer e.stats.observe("search", time.Now())
	resp, err := e.retriever.Search(ctx, req)
	if err != nil {
		e.stats.fail("search")
		return resp, err
	}
	e.stats.inc(statSearches)
	if resp.Mode == retrieval.ModeTemporal {
		e.stats.inc(statTemporal)
	}
	for _, r := range resp.Results {
		if r.Resolved {
			e.stats.add(statResolved, r.Superseded)
		}
	}
	return resp, nil
}

// Get returns one of the tenant's memories.
func (e *Engine) Get(ctx context.Context, t model.TenantKey, id string) (model.Memory, error) {
	return e.tiers.Get(ctx, t, id)
}

// Protect shields a memory from demotion, expiry and decay.
func (e *Engine) Protect(ctx context.Context, t model.TenantKey, id, reason string) error {
	defer e.stats.observe("protect", time.Now())
	return e.counted("protect", e.tiers.Protect(ctx, t, id, reason))
}

// Unprotect removes the shield.
func (e *Engine) Unprotect(ctx context.Context, t model.TenantKey, id, reason string) error {
	defer e.stats.observe("unprotect", time.Now())
	return e.counted("unprotect", e.tiers.Unprotect(ctx, t, id, reason))
}

// Promote moves a memory to a higher tier. It is the only way into long_term.
func (e *Engine) Promote(ctx context.Context, t model.TenantKey, id string, to model.Tier, reason string) error {
	defer e.stats.observe("promote", time.Now())
	return e.counted("promote", e.tiers.Promote(ctx, t, id, to, reason))
}

// Demote moves a memory to a lower tier.
func (e *Engine) Demote(ctx context.Context, t model.TenantKey, id string, to model.Tier, reason string) error {
	defer e.stats.observe("demote", time.Now())
	return e.counted("demote", e.tiers.Demote(ctx, t, id, to, reason))
}

// RunTierSweep applies the promotion, demotion and expiry rules.
func (e *Engine) RunTierSweep(ctx context.Context, t model.TenantKey) (tier.SweepReport, error) {
	defer e.stats.observe("tier_sweep", time.Now())
	rep, err := e.tiers.Sweep(ctx, t)
	return rep, e.counted("tier_sweep", err)
}

// RunDecay lowers the significance of unprotected memories.
func (e *Engine) RunDecay(ctx context.Context, t model.TenantKey, rate float64) (tier.DecayReport, error) {
	defer e.stats.observe("decay", time.Now())
	rep, err := e.tiers.Decay(ctx, t, rate)
	return rep, e.counted("decay", err)
}

// ListByTier returns the tenant's memories in one tier, most significant first.
func (e *Engine) ListByTier(ctx context.Context, t model.TenantKey, tr model.Tier, limit int) ([]model.Memory, error) {
	return e.tiers.ListByTier(ctx, t, tr, limit)
}

// ListProtected returns the tenant's protected memories.
func (e *Engine) ListProtected(ctx context.Context, t model.TenantKey) ([]model.Memory, error) {
	return e.tiers.ListProtected(ctx, t)
}

// DecayCandidates previews memories that decay would push below threshold.
func (e *Engine) DecayCandidates(ctx context.Context, t model.TenantKey, threshold float64, limit int) ([]tier.Candidate, error) {
	return e.tiers.DecayCandidates(ctx, t, threshold, limit)
}

// GetTrajectory analyzes the tenant's recent conversation emotions.
func (e *Engine) GetTrajectory(ctx context.Context, t model.TenantKey) (model.Trajectory, error) {
	defer e.stats.observe("trajectory", time.Now())
	tr, err := e.trajectory.Analyze(ctx, t, "")
	return tr, e.counted("trajectory", err)
}

// DetectContradiction checks new content against stored facts under
// semanticKey; an empty key is derived from the content.
func (e *Engine) DetectContradiction(ctx context.Context, t model.TenantKey, semanticKey, content string) ([]contradiction.Contradiction, error) {
	defer e.stats.observe("contradiction", time.Now())
	found, err := e.detector.Detect(ctx, t, semanticKey, content)
	if err != nil {
		e.stats.fail("contradiction")
		return nil, err
	}
	e.stats.add(statContradictions, len(found))
	return found, nil
}

// Cluster groups the tenant's memories by similarity.
func (e *Engine) Cluster(ctx context.Context, t model.TenantKey) (contradiction.ClusterReport, error) {
	defer e.stats.observe("cluster", time.Now())
	rep, err := e.detector.Cluster(ctx, t)
	return rep, e.counted("cluster", err)
}

func (e *Engine) counted(op string, err error) error {
	if err != nil {
		e.stats.fail(op)
	}
	return err
}
