package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/rcliao/episodic-memory/internal/model"
)

// indexedFields are copied into chromem document metadata so tenant and
// kind filters run inside the ANN query.
var indexedFields = []string{model.FieldUserID, model.FieldAgentID, model.FieldKind}

// ChromemBackend implements Backend in process with chromem-go, one
// collection per named vector. chromem holds the vectors for similarity
// queries; the point table here is the source of truth for payloads, so a
// deleted point is masked even while its documents linger in chromem.
type ChromemBackend struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	params      map[string]VectorParams
	points      map[string]Point
}

// NewChromemBackend creates an empty in-memory backend.
func NewChromemBackend() *ChromemBackend {
	return &ChromemBackend{
		db:          chromem.NewDB(),
		collections: map[string]*chromem.Collection{},
		params:      map[string]VectorParams{},
		points:      map[string]Point{},
	}
}

func (c *ChromemBackend) Close() error { return nil }

func (c *ChromemBackend) EnsureCollection(ctx context.Context, vectors map[string]VectorParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, vp := range vectors {
		if existing, ok := c.params[name]; ok {
			if existing.Size != vp.Size {
				return fmt.Errorf("vector %q exists with %d dims, requested %d", name, existing.Size, vp.Size)
			}
			continue
		}
		// nil embedding func: we always supply embeddings
		col, err := c.db.CreateCollection("vec_"+name, nil, nil)
		if err != nil {
			return fmt.Errorf("create collection %q: %w", name, err)
		}
		if vp.Metric == "" {
			vp.Metric = Cosine
		}
		c.collections[name] = col
		c.params[name] = vp
	}
	return nil
}

func (c *ChromemBackend) Upsert(ctx context.Context, p Point, wait bool) error {
	if p.ID == "" {
		return fmt.Errorf("upsert: empty id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkVectors(c.params, p.Vectors); err != nil {
		return fmt.Errorf("upsert %s: %w", p.ID, err)
	}

	// A re-upsert may carry fewer dimensions than before.
	if _, ok := c.points[p.ID]; ok {
		if err := c.dropDocuments(ctx, p.ID); err != nil {
			return err
		}
	}
	meta := metadata(p.Payload)
	for name, v := range p.Vectors {
		if isZero(v) {
			continue
		}
		err := c.collections[name].AddDocument(ctx, chromem.Document{
			ID:        p.ID,
			Embedding: append([]float32(nil), v...),
			Metadata:  meta,
		})
		if err != nil {
			return fmt.Errorf("%w: add document %s/%s: %v", model.ErrBackendUnavailable, name, p.ID, err)
		}
	}
	c.points[p.ID] = clonePoint(p)
	return nil
}

func (c *ChromemBackend) Get(ctx context.Context, id string, withVectors bool) (Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.points[id]
	if !ok {
		return Point{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	out := clonePoint(p)
	if !withVectors {
		out.Vectors = nil
	}
	return out, nil
}

func (c *ChromemBackend) Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error) {
	return c.query(ctx, req.Vector, req.Query, req.Filter, req.Limit, req.ScoreThreshold, req.WithVectors)
}

func (c *ChromemBackend) RecommendContrast(ctx context.Context, req RecommendRequest) ([]ScoredPoint, error) {
	query := ContrastQuery(req.Positive, req.Negative)
	if query == nil {
		return nil, fmt.Errorf("recommend: no positive examples")
	}
	return c.query(ctx, req.Vector, query, req.Filter, req.Limit, req.ScoreThreshold, req.WithVectors)
}

func (c *ChromemBackend) query(ctx context.Context, vector string, query []float32, f Filter, limit int, threshold *float64, withVectors bool) ([]ScoredPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	col, ok := c.collections[vector]
	if !ok {
		return nil, fmt.Errorf("unknown vector %q", vector)
	}
	// chromem rejects nResults above the collection size
	n := col.Count()
	if n == 0 || isZero(query) {
		return nil, nil
	}

	where := map[string]string{}
	for _, k := range indexedFields {
		if v, ok := f.Must[k]; ok {
			where[k] = v
		}
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := col.QueryEmbedding(ctx, append([]float32(nil), query...), n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", model.ErrBackendUnavailable, vector, err)
	}

	var scored []ScoredPoint
	for _, r := range results {
		p, ok := c.points[r.ID]
		if !ok || p.Vectors[vector] == nil || !f.Matches(p.Payload) {
			continue
		}
		sp := ScoredPoint{ID: r.ID, Score: float64(r.Similarity), Payload: clonePayload(p.Payload)}
		if withVectors {
			sp.Vectors = cloneVectors(p.Vectors)
		}
		scored = append(scored, sp)
	}
	return rank(scored, threshold, limit), nil
}

func (c *ChromemBackend) Scroll(ctx context.Context, req ScrollRequest) ([]Point, error) {
	c.mu.RLock()
	var points []Point
	for _, p := range c.points {
		if !req.Filter.Matches(p.Payload) {
			continue
		}
		out := clonePoint(p)
		if !req.WithVectors {
			out.Vectors = nil
		}
		points = append(points, out)
	}
	c.mu.RUnlock()

	orderPoints(points, req.OrderBy, req.Descending)
	return page(points, req.Offset, req.Limit), nil
}

func (c *ChromemBackend) SetPayload(ctx context.Context, id string, payload Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.points[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	p.Payload = mergePayload(clonePayload(p.Payload), payload)
	c.points[id] = p
	return nil
}

func (c *ChromemBackend) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.points[id]; !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err := c.dropDocuments(ctx, id); err != nil {
		return err
	}
	delete(c.points, id)
	return nil
}

// dropDocuments removes id from every collection. Callers hold c.mu.
func (c *ChromemBackend) dropDocuments(ctx context.Context, id string) error {
	for name, col := range c.collections {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("%w: delete document %s/%s: %v", model.ErrBackendUnavailable, name, id, err)
		}
	}
	return nil
}

func (c *ChromemBackend) Count(ctx context.Context, f Filter) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, p := range c.points {
		if f.Matches(p.Payload) {
			n++
		}
	}
	return n, nil
}

func metadata(p Payload) map[string]string {
	meta := map[string]string{}
	for _, k := range indexedFields {
		if s, ok := p[k].(string); ok {
			meta[k] = s
		}
	}
	return meta
}

func isZero(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += math.Abs(float64(x))
	}
	return sum == 0
}

func clonePoint(p Point) Point {
	return Point{ID: p.ID, Vectors: cloneVectors(p.Vectors), Payload: clonePayload(p.Payload)}
}

func cloneVectors(in map[string][]float32) map[string][]float32 {
	if in == nil {
		return nil
	}
	out := make(map[string][]float32, len(in))
	for k, v := range in {
		out[k] = append([]float32(nil), v...)
	}
	return out
}

// clonePayload copies the top level; nested values are treated as immutable.
func clonePayload(in Payload) Payload {
	out := make(Payload, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
