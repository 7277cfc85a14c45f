package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/episodic-memory/internal/model"
)

var testSpaces = map[string]VectorParams{
	"content": {Size: 3, Metric: Cosine},
	"emotion": {Size: 3, Metric: Cosine},
}

func newBackends(t *testing.T) map[string]Backend {
	t.Helper()
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	out := map[string]Backend{"sqlite": s, "chromem": NewChromemBackend()}
	for name, b := range out {
		require.NoError(t, b.EnsureCollection(context.Background(), testSpaces), name)
	}
	return out
}

func point(id, user string, ts float64, content []float32) Point {
	return Point{
		ID:      id,
		Vectors: map[string][]float32{"content": content},
		Payload: Payload{
			"user_id":        user,
			"agent_id":       "elena",
			"memory_type":    "conversation",
			"timestamp_unix": ts,
			"content":        id,
		},
	}
}

func seed(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Upsert(ctx, point("a", "u1", 100, []float32{1, 0, 0}), true))
	require.NoError(t, b.Upsert(ctx, point("b", "u1", 300, []float32{0.9, 0.1, 0}), true))
	require.NoError(t, b.Upsert(ctx, point("c", "u1", 200, []float32{0, 1, 0}), true))
	require.NoError(t, b.Upsert(ctx, point("d", "u2", 400, []float32{1, 0, 0}), true))
}

func ids[T interface{ Point | ScoredPoint }](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := any(it).(type) {
		case Point:
			out = append(out, v.ID)
		case ScoredPoint:
			out = append(out, v.ID)
		}
	}
	return out
}

var u1 = Filter{Must: map[string]string{"user_id": "u1", "agent_id": "elena"}}

func TestBackendUpsertGet(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)

			p, err := b.Get(ctx, "a", true)
			require.NoError(t, err)
			assert.Equal(t, "u1", p.Payload["user_id"])
			assert.Equal(t, []float32{1, 0, 0}, p.Vectors["content"])

			p, err = b.Get(ctx, "a", false)
			require.NoError(t, err)
			assert.Nil(t, p.Vectors)

			_, err = b.Get(ctx, "missing", false)
			assert.ErrorIs(t, err, model.ErrNotFound)

			err = b.Upsert(ctx, Point{ID: "x", Vectors: map[string][]float32{"content": {1, 0}}}, true)
			assert.Error(t, err, "wrong dimension count")
			err = b.Upsert(ctx, Point{ID: "x", Vectors: map[string][]float32{"nope": {1, 0, 0}}}, true)
			assert.Error(t, err, "unknown vector")
			err = b.Upsert(ctx, Point{ID: "x"}, true)
			assert.Error(t, err, "no vectors")
		})
	}
}

func TestBackendSearch(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)

			res, err := b.Search(ctx, SearchRequest{Vector: "content", Query: []float32{1, 0, 0}, Filter: u1, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, ids(res))
			assert.InDelta(t, 1.0, res[0].Score, 1e-5)

			res, err = b.Search(ctx, SearchRequest{Vector: "content", Query: []float32{1, 0, 0}, Filter: u1, Limit: 10,
				ScoreThreshold: Threshold(0.5)})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids(res))

			res, err = b.Search(ctx, SearchRequest{Vector: "content", Query: []float32{1, 0, 0}, Filter: u1, Limit: 1, WithVectors: true})
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.NotNil(t, res[0].Vectors["content"])

			// nobody has an emotion vector yet
			res, err = b.Search(ctx, SearchRequest{Vector: "emotion", Query: []float32{1, 0, 0}, Filter: u1, Limit: 10})
			require.NoError(t, err)
			assert.Empty(t, res)

			res, err = b.Search(ctx, SearchRequest{Vector: "content", Query: []float32{1, 0, 0}, Limit: 10,
				Filter: Filter{Any: map[string][]string{"user_id": {"u2"}}}})
			require.NoError(t, err)
			assert.Equal(t, []string{"d"}, ids(res))
		})
	}
}

func TestBackendScroll(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)

			pts, err := b.Scroll(ctx, ScrollRequest{Filter: u1, OrderBy: "timestamp_unix", Descending: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c", "a"}, ids(pts))

			pts, err = b.Scroll(ctx, ScrollRequest{Filter: u1, OrderBy: "timestamp_unix", Limit: 2, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b"}, ids(pts))

			f := u1
			f.Range = map[string]Range{"timestamp_unix": AtLeast(200)}
			pts, err = b.Scroll(ctx, ScrollRequest{Filter: f, OrderBy: "timestamp_unix"})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b"}, ids(pts))

			n, err := b.Count(ctx, u1)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestBackendRecommendContrast(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)

			// close to x, away from y: "a" beats "b", "c" is pushed away
			res, err := b.RecommendContrast(ctx, RecommendRequest{
				Vector:   "content",
				Positive: [][]float32{{1, 0, 0}},
				Negative: [][]float32{{0, 1, 0}},
				Filter:   u1,
				Limit:    10,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, ids(res))
			assert.Less(t, res[2].Score, 0.0)

			_, err = b.RecommendContrast(ctx, RecommendRequest{Vector: "content", Filter: u1})
			assert.Error(t, err)
		})
	}
}

func TestBackendSetPayloadAndDelete(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)

			require.NoError(t, b.SetPayload(ctx, "a", Payload{"memory_tier": "long_term", "content": nil}))
			p, err := b.Get(ctx, "a", false)
			require.NoError(t, err)
			assert.Equal(t, "long_term", p.Payload["memory_tier"])
			assert.NotContains(t, p.Payload, "content")
			assert.Equal(t, "u1", p.Payload["user_id"])

			assert.ErrorIs(t, b.SetPayload(ctx, "missing", Payload{"x": 1}), model.ErrNotFound)

			require.NoError(t, b.Delete(ctx, "a"))
			assert.ErrorIs(t, b.Delete(ctx, "a"), model.ErrNotFound)

			res, err := b.Search(ctx, SearchRequest{Vector: "content", Query: []float32{1, 0, 0}, Filter: u1, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, ids(res))

			n, err := b.Count(ctx, u1)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestBackendUpsertReplacesVectors(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := point("a", "u1", 100, []float32{1, 0, 0})
			p.Vectors["emotion"] = []float32{0, 0, 1}
			require.NoError(t, b.Upsert(ctx, p, true))

			p = point("a", "u1", 100, []float32{0, 1, 0})
			require.NoError(t, b.Upsert(ctx, p, true))

			got, err := b.Get(ctx, "a", true)
			require.NoError(t, err)
			assert.Equal(t, []float32{0, 1, 0}, got.Vectors["content"])
			assert.NotContains(t, got.Vectors, "emotion")

			res, err := b.Search(ctx, SearchRequest{Vector: "emotion", Query: []float32{0, 0, 1}, Filter: u1, Limit: 10})
			require.NoError(t, err)
			assert.Empty(t, res)
		})
	}
}

func TestFilterMatches(t *testing.T) {
	p := Payload{"user_id": "u1", "memory_type": "fact", "timestamp_unix": 150.0}
	assert.True(t, Filter{}.Matches(p))
	assert.True(t, Filter{Must: map[string]string{"user_id": "u1"}}.Matches(p))
	assert.False(t, Filter{Must: map[string]string{"user_id": "u2"}}.Matches(p))
	assert.True(t, Filter{Any: map[string][]string{"memory_type": {"fact", "preference"}}}.Matches(p))
	assert.False(t, Filter{Any: map[string][]string{"memory_type": {"context"}}}.Matches(p))
	assert.True(t, Filter{Range: map[string]Range{"timestamp_unix": AtLeast(100)}}.Matches(p))
	assert.False(t, Filter{Range: map[string]Range{"timestamp_unix": AtLeast(200)}}.Matches(p))
	assert.False(t, Filter{Range: map[string]Range{"missing": AtLeast(0)}}.Matches(p))
}

func TestWhereClauseRejectsBadField(t *testing.T) {
	_, _, err := whereClause(Filter{Must: map[string]string{"x') OR 1=1 --": "y"}})
	assert.Error(t, err)
}

func TestContrastQuery(t *testing.T) {
	assert.Nil(t, ContrastQuery(nil, nil))
	assert.Equal(t, []float32{1, 0}, ContrastQuery([][]float32{{1, 0}}, nil))
	assert.Equal(t, []float32{2, -1}, ContrastQuery([][]float32{{1, 0}}, [][]float32{{0, 1}}))
}

func TestSQLiteReopenKeepsVectorSpaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(context.Background(), testSpaces))
	require.NoError(t, s.Upsert(context.Background(), point("a", "u1", 1, []float32{1, 0, 0}), true))
	require.NoError(t, s.Close())

	s, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	defer s.Close()
	err = s.EnsureCollection(context.Background(), map[string]VectorParams{"content": {Size: 8}})
	assert.Error(t, err, "size mismatch with the persisted space")

	res, err := s.Search(context.Background(), SearchRequest{Vector: "content", Query: []float32{1, 0, 0}, Filter: u1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res))
}

type slowBackend struct{ Backend }

func (slowBackend) Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	b := WithTimeout(slowBackend{NewChromemBackend()}, 10*time.Millisecond)
	_, err := b.Search(context.Background(), SearchRequest{Vector: "content"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrBackendUnavailable))

	require.NoError(t, b.EnsureCollection(context.Background(), testSpaces))
}

func TestScrollAllPages(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, b)
			pts, err := ScrollAll(context.Background(), b, ScrollRequest{Filter: u1, OrderBy: "timestamp_unix"}, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c", "b"}, ids(pts))

			pts, err = ScrollAll(context.Background(), b, ScrollRequest{Filter: u1, OrderBy: "timestamp_unix", Limit: 2}, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, ids(pts))
		})
	}
}

func TestEncodeDecodeMemory(t *testing.T) {
	b := NewChromemBackend()
	ctx := context.Background()
	require.NoError(t, b.EnsureCollection(ctx, testSpaces))

	m := model.Memory{
		ID:        "m1",
		UserID:    "u1",
		AgentID:   "elena",
		Kind:      model.KindFact,
		Content:   "my cat's name is Luna",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Vectors:   map[model.Dimension][]float32{model.DimContent: {1, 0, 0}},
	}
	p, err := Encode(m)
	require.NoError(t, err)
	require.NoError(t, b.Upsert(ctx, p, true))

	pts, err := b.Scroll(ctx, ScrollRequest{Filter: TenantFilter(m.Tenant()).With(model.FieldKind, "fact"), WithVectors: true})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	got, err := Decode(pts[0])
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.True(t, m.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, []float32{1, 0, 0}, got.Vectors[model.DimContent])
}

func TestChromemDeleteDropsDocuments(t *testing.T) {
	ctx := context.Background()
	c := NewChromemBackend()
	require.NoError(t, c.EnsureCollection(ctx, testSpaces))

	p := point("a", "u1", 100, []float32{1, 0, 0})
	p.Vectors["emotion"] = []float32{0, 1, 0}
	require.NoError(t, c.Upsert(ctx, p, true))
	assert.Equal(t, 1, c.collections["content"].Count())
	assert.Equal(t, 1, c.collections["emotion"].Count())

	require.NoError(t, c.Upsert(ctx, point("a", "u1", 100, []float32{1, 0, 0}), true))
	assert.Equal(t, 1, c.collections["content"].Count())
	assert.Equal(t, 0, c.collections["emotion"].Count())

	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, 0, c.collections["content"].Count())
	assert.ErrorIs(t, c.Delete(ctx, "a"), model.ErrNotFound)
}
