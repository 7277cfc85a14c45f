package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/episodic-memory/internal/config"
	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

var (
	tenant = model.TenantKey{UserID: "u1", AgentID: "elena"}
	now    = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	backend vectorstore.Backend
	r       *Retriever
}

func newFixture(t *testing.T, e embedding.Embedder, personas map[string][]string) *fixture {
	t.Helper()
	b := vectorstore.NewChromemBackend()
	require.NoError(t, b.EnsureCollection(context.Background(), map[string]vectorstore.VectorParams{
		"content": {Size: 2},
		"emotion": {Size: 2},
	}))
	if e == nil {
		e = failingEmbedder{}
	}
	r := New(Options{
		Backend:     b,
		Embedder:    e,
		Config:      config.Default().Retrieval,
		Personas:    personas,
		Concurrency: 2,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return now },
	})
	return &fixture{backend: b, r: r}
}

func (f *fixture) put(t *testing.T, m model.Memory) {
	t.Helper()
	if m.UserID == "" {
		m.UserID, m.AgentID = tenant.UserID, tenant.AgentID
	}
	if m.Kind == "" {
		m.Kind = model.KindConversation
	}
	if m.Confidence == 0 {
		m.Confidence = 1
	}
	p, err := vectorstore.Encode(m)
	require.NoError(t, err)
	require.NoError(t, f.backend.Upsert(context.Background(), p, true))
}

func content(v ...float32) map[model.Dimension][]float32 {
	return map[model.Dimension][]float32{model.DimContent: v}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("offline")
}

func (failingEmbedder) Dims() int { return 2 }

func ids(res []Result) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Memory.ID
	}
	return out
}

func TestIsTemporal(t *testing.T) {
	triggers := config.DefaultTemporalTriggers
	assert.True(t, IsTemporal("what did I just say", triggers))
	assert.True(t, IsTemporal("You said something a moment ago", triggers))
	assert.True(t, IsTemporal("JUST NOW", triggers))
	assert.True(t, IsTemporal("the last thing", triggers))
	assert.False(t, IsTemporal("what is my lastname", triggers))
	assert.False(t, IsTemporal("tell me about cats", triggers))
}

func TestNormalizeWeights(t *testing.T) {
	w, err := NormalizeWeights(map[model.Dimension]float64{model.DimContent: 2, model.DimEmotion: 2, model.DimContext: 0})
	require.NoError(t, err)
	assert.Equal(t, map[model.Dimension]float64{model.DimContent: 0.5, model.DimEmotion: 0.5}, w)

	w, err = NormalizeWeights(nil)
	require.NoError(t, err)
	assert.Equal(t, map[model.Dimension]float64{model.DimContent: 1}, w)

	_, err = NormalizeWeights(map[model.Dimension]float64{model.DimContent: -1})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = NormalizeWeights(map[model.Dimension]float64{"mood": 1})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestTemporalOrdersByTimestamp(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "m90", Content: "first", Timestamp: now.Add(-90 * time.Minute), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "m10", Content: "third", Timestamp: now.Add(-10 * time.Minute), Vectors: content(0, 1)})
	f.put(t, model.Memory{ID: "m30", Content: "second", Timestamp: now.Add(-30 * time.Minute), Vectors: content(1, 1)})
	f.put(t, model.Memory{ID: "fact", Kind: model.KindFact, Content: "a fact", Timestamp: now.Add(-5 * time.Minute), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "old", Content: "old", Timestamp: now.Add(-3 * time.Hour), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "other", UserID: "u2", AgentID: "elena", Content: "other", Timestamp: now.Add(-time.Minute), Vectors: content(1, 0)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "what did I just say"})
	require.NoError(t, err)
	assert.Equal(t, ModeTemporal, resp.Mode)
	assert.Equal(t, []string{"m10", "m30", "m90"}, ids(resp.Results))
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.TemporalRank)
	}
}

func TestTemporalFallsBackToSemantic(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "old", Content: "old", Timestamp: now.Add(-3 * time.Hour), Vectors: content(1, 0)})

	resp, err := f.r.Search(context.Background(), Request{
		Tenant:  tenant,
		Query:   "what did I say before",
		Vectors: content(1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, resp.Mode)
	assert.Equal(t, []string{"old"}, ids(resp.Results))
}

func TestCascadeRecordsThreshold(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "a", Content: "a", Timestamp: now, Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "b", Content: "b", Timestamp: now, Vectors: content(0.6, 0.8)})
	f.put(t, model.Memory{ID: "c", Content: "c", Timestamp: now, Vectors: content(0.25, 0.968)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "anything", Vectors: content(1, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(resp.Results))
	require.NotNil(t, resp.Results[0].ThresholdUsed)
	assert.Equal(t, 0.3, *resp.Results[0].ThresholdUsed)
}

func TestCascadeLowersThreshold(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "weak", Content: "weak", Timestamp: now, Vectors: content(0.12, 0.9928)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "anything", Vectors: content(1, 0)})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0.1, *resp.Results[0].ThresholdUsed)
}

func TestCascadeExhaustedIsEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "opposite", Content: "x", Timestamp: now, Vectors: content(-1, 0)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "anything", Vectors: content(1, 0)})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEmbeddingFailureDegradesToEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "a", Content: "a", Timestamp: now, Vectors: content(1, 0)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "cats"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func putTwoDims(t *testing.T, f *fixture) {
	f.put(t, model.Memory{ID: "x", Content: "x", Timestamp: now, Vectors: map[model.Dimension][]float32{
		model.DimContent: {1, 0}, model.DimEmotion: {0, 1},
	}})
	f.put(t, model.Memory{ID: "y", Content: "y", Timestamp: now, Vectors: map[model.Dimension][]float32{
		model.DimContent: {0.8, 0.6}, model.DimEmotion: {1, 0},
	}})
}

func TestMultiDimensionWeightsAreNormalized(t *testing.T) {
	f := newFixture(t, nil, nil)
	putTwoDims(t, f)
	query := map[model.Dimension][]float32{model.DimContent: {1, 0}, model.DimEmotion: {1, 0}}

	run := func(w float64) Response {
		resp, err := f.r.Search(context.Background(), Request{
			Tenant:  tenant,
			Query:   "how do I feel",
			Vectors: query,
			Weights: map[model.Dimension]float64{model.DimContent: w, model.DimEmotion: w},
		})
		require.NoError(t, err)
		return resp
	}
	doubled, unit := run(2), run(1)

	assert.Equal(t, ModeMulti, unit.Mode)
	assert.Equal(t, []string{"y", "x"}, ids(unit.Results))
	assert.Equal(t, ids(unit.Results), ids(doubled.Results))
	for i := range unit.Results {
		assert.InDelta(t, unit.Results[i].Score, doubled.Results[i].Score, 1e-9)
	}
	assert.InDelta(t, 0.9, unit.Results[0].Score, 1e-4)
	assert.InDelta(t, 0.8, unit.Results[0].DimensionScores[model.DimContent], 1e-4)
	assert.InDelta(t, 1.0, unit.Results[0].DimensionScores[model.DimEmotion], 1e-4)
}

func TestMultiDimensionSkipsFailedDimension(t *testing.T) {
	f := newFixture(t, nil, nil)
	putTwoDims(t, f)

	// emotion has no vector and the embedder is down, so only content counts
	resp, err := f.r.Search(context.Background(), Request{
		Tenant:  tenant,
		Query:   "how do I feel",
		Vectors: content(1, 0),
		Weights: map[model.Dimension]float64{model.DimContent: 1, model.DimEmotion: 1},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "x", resp.Results[0].Memory.ID)
	assert.InDelta(t, 0.5, resp.Results[0].Score, 1e-4)
	assert.NotContains(t, resp.Results[0].DimensionScores, model.DimEmotion)
}

func TestRelevance(t *testing.T) {
	kw := []string{"ocean", "marine", "research"}
	conv := model.Memory{Kind: model.KindConversation, Content: "I love the ocean"}
	assert.InDelta(t, 0.6, Relevance(conv, kw), 1e-9)
	fact := model.Memory{Kind: model.KindFact, Content: "Marine research on the ocean floor"}
	assert.InDelta(t, 0.8, Relevance(fact, kw), 1e-9)
	assert.InDelta(t, 0.2, Relevance(model.Memory{Kind: model.KindFact}, nil), 1e-9)
}

func TestFidelitySelectsByTier(t *testing.T) {
	f := newFixture(t, nil, map[string][]string{"elena": {"ocean", "marine", "research"}})
	old := now.Add(-72 * time.Hour)
	f.put(t, model.Memory{ID: "recent1", Content: "hi there", Timestamp: now.Add(-time.Hour), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "recent2", Content: "hello", Timestamp: now.Add(-2 * time.Hour), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "domain", Kind: model.KindFact, Content: "marine research in the ocean", Timestamp: old, Vectors: content(0.9, 0.436)})
	f.put(t, model.Memory{ID: "general", Kind: model.KindFact, Content: "I had toast", Timestamp: old, Vectors: content(1, 0)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "sea", Vectors: content(1, 0), Limit: 2, Fidelity: true})
	require.NoError(t, err)
	assert.Equal(t, ModeFidelity, resp.Mode)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, TierRecent, resp.Results[0].SelectionTier)
	assert.Equal(t, "domain", resp.Results[1].Memory.ID)
	assert.Equal(t, TierDomain, resp.Results[1].SelectionTier)
	assert.InDelta(t, 0.8, resp.Results[1].DomainRelevance, 1e-9)
}

func TestFidelityUnderBudgetKeepsEverything(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "a", Content: "a", Timestamp: now, Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "b", Kind: model.KindFact, Content: "b", Timestamp: now.Add(-72 * time.Hour), Vectors: content(1, 0)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "q", Vectors: content(1, 0), Limit: 5, Fidelity: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(resp.Results))
	assert.Equal(t, TierGeneral, resp.Results[1].SelectionTier)
}

func TestResolveKeepsNewestFact(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "luna", Kind: model.KindFact, Content: "my cat's name is Luna",
		Facets: model.Facets{SemanticKey: "pet_name"}, Timestamp: now.Add(-6 * 24 * time.Hour), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "whiskers", Kind: model.KindFact, Content: "my cat's name is Whiskers",
		Facets: model.Facets{SemanticKey: "pet_name"}, Timestamp: now, Vectors: content(1, 0)})

	resp, err := f.r.Search(context.Background(), Request{Tenant: tenant, Query: "cat name", Vectors: content(1, 0), Resolve: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "whiskers", resp.Results[0].Memory.ID)
	assert.True(t, resp.Results[0].Resolved)
	assert.Equal(t, 1, resp.Results[0].Superseded)
	require.NotNil(t, resp.Results[0].ThresholdUsed)
}

func TestResolveBackfillsToLimit(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.put(t, model.Memory{ID: "luna", Kind: model.KindFact, Content: "my cat's name is Luna",
		Facets: model.Facets{SemanticKey: "pet_name"}, Timestamp: now.Add(-6 * 24 * time.Hour), Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "whiskers", Kind: model.KindFact, Content: "my cat's name is Whiskers",
		Facets: model.Facets{SemanticKey: "pet_name"}, Timestamp: now, Vectors: content(1, 0)})
	f.put(t, model.Memory{ID: "color", Kind: model.KindFact, Content: "my favorite color is blue",
		Facets: model.Facets{SemanticKey: "favorite_color"}, Timestamp: now, Vectors: content(0.9, 0.1)})

	req := Request{Tenant: tenant, Query: "cat name", Vectors: content(1, 0), Limit: 2}
	resp, err := f.r.Search(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"luna", "whiskers"}, ids(resp.Results))

	req.Resolve = true
	resp, err = f.r.Search(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"whiskers", "color"}, ids(resp.Results))
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.r.Search(ctx, Request{Tenant: model.TenantKey{UserID: "u1", AgentID: "Elena R"}, Query: "q"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.r.Search(ctx, Request{Tenant: tenant})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.r.Search(ctx, Request{Tenant: tenant, Query: "q", Weights: map[model.Dimension]float64{model.DimEmotion: -2}})
	assert.ErrorIs(t, err, model.ErrValidation)
}
