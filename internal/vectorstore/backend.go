// Package vectorstore defines the named-vector point store the engine
// persists memories in, with SQLite and chromem-go implementations.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"

	"github.com/rcliao/episodic-memory/internal/embedding"
)

// Distance metrics.
const (
	Cosine = "cosine"
	Dot    = "dot"
)

// VectorParams configures one named vector space.
type VectorParams struct {
	Size   int    `json:"size"`
	Metric string `json:"metric"`
}

// Payload is the structured metadata stored with a point.
type Payload = map[string]any

// Point is a stored item: an id, its named vectors and its payload.
type Point struct {
	ID      string
	Vectors map[string][]float32
	Payload Payload
}

// ScoredPoint is a point returned by a similarity query.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
	Vectors map[string][]float32
}

// Range bounds a numeric payload field. Nil ends are open.
type Range struct {
	Gte *float64
	Lte *float64
}

// AtLeast is a range open at the top.
func AtLeast(v float64) Range { return Range{Gte: &v} }

// Filter selects points by payload. All conditions must hold.
type Filter struct {
	// Must is exact match on string fields.
	Must map[string]string
	// Any matches when the string field equals one of the values.
	Any map[string][]string
	// Range bounds numeric fields.
	Range map[string]Range
}

// SearchRequest is a nearest-neighbour query against one named vector.
type SearchRequest struct {
	Vector         string
	Query          []float32
	Filter         Filter
	Limit          int
	ScoreThreshold *float64
	WithVectors    bool
}

// ScrollRequest pages through points in payload order.
type ScrollRequest struct {
	Filter      Filter
	OrderBy     string
	Descending  bool
	Limit       int
	Offset      int
	WithVectors bool
}

// RecommendRequest finds points close to the positive examples and away
// from the negative ones, scored against 2·mean(positive) − mean(negative).
type RecommendRequest struct {
	Vector         string
	Positive       [][]float32
	Negative       [][]float32
	Filter         Filter
	Limit          int
	ScoreThreshold *float64
	WithVectors    bool
}

// Threshold returns a pointer for ScoreThreshold fields.
func Threshold(v float64) *float64 { return &v }

// Backend is a collection of points with independently indexed named vectors.
type Backend interface {
	// EnsureCollection creates the named vector spaces if missing.
	EnsureCollection(ctx context.Context, vectors map[string]VectorParams) error
	// Upsert replaces the point's vectors and payload. With wait set, the
	// write is visible to every read issued after Upsert returns.
	Upsert(ctx context.Context, p Point, wait bool) error
	// Get returns one point or model.ErrNotFound.
	Get(ctx context.Context, id string, withVectors bool) (Point, error)
	Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error)
	Scroll(ctx context.Context, req ScrollRequest) ([]Point, error)
	RecommendContrast(ctx context.Context, req RecommendRequest) ([]ScoredPoint, error)
	// SetPayload merges keys into the payload; a nil value removes the key.
	SetPayload(ctx context.Context, id string, payload Payload) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, f Filter) (int, error)
	Close() error
}

// ContrastQuery builds the query vector of a recommend request.
func ContrastQuery(positive, negative [][]float32) []float32 {
	if len(positive) == 0 {
		return nil
	}
	pos := embedding.Mean(positive...)
	if len(negative) == 0 {
		return pos
	}
	neg := embedding.Mean(negative...)
	out := make([]float32, len(pos))
	for i := range pos {
		var n float32
		if i < len(neg) {
			n = neg[i]
		}
		out[i] = 2*pos[i] - n
	}
	return out
}

// Matches evaluates the filter against a payload in memory.
func (f Filter) Matches(p Payload) bool {
	for k, want := range f.Must {
		if s, ok := p[k].(string); !ok || s != want {
			return false
		}
	}
	for k, options := range f.Any {
		s, ok := p[k].(string)
		if !ok {
			return false
		}
		found := false
		for _, o := range options {
			if s == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, r := range f.Range {
		v, ok := number(p[k])
		if !ok {
			return false
		}
		if r.Gte != nil && v < *r.Gte {
			return false
		}
		if r.Lte != nil && v > *r.Lte {
			return false
		}
	}
	return true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// rank sorts by score descending, drops points under the threshold and
// truncates to limit. Ties keep id order for stable results.
func rank(points []ScoredPoint, threshold *float64, limit int) []ScoredPoint {
	kept := points[:0]
	for _, p := range points {
		if threshold != nil && p.Score < *threshold {
			continue
		}
		kept = append(kept, p)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].ID < kept[j].ID
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// orderPoints sorts points by a numeric payload field, ids breaking ties.
func orderPoints(points []Point, field string, desc bool) {
	sort.SliceStable(points, func(i, j int) bool {
		a, _ := number(points[i].Payload[field])
		b, _ := number(points[j].Payload[field])
		if a != b {
			if desc {
				return a > b
			}
			return a < b
		}
		return points[i].ID < points[j].ID
	})
}

// page applies offset and limit to an ordered slice.
func page(points []Point, offset, limit int) []Point {
	if offset >= len(points) {
		return nil
	}
	points = points[offset:]
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points
}

func checkVectors(params map[string]VectorParams, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("point has no vectors")
	}
	for name, v := range vectors {
		vp, ok := params[name]
		if !ok {
			return fmt.Errorf("unknown vector %q", name)
		}
		if vp.Size > 0 && len(v) != vp.Size {
			return fmt.Errorf("vector %q has %d dims, want %d", name, len(v), vp.Size)
		}
	}
	return nil
}

func mergePayload(dst, src Payload) Payload {
	if dst == nil {
		dst = Payload{}
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// Open creates the backend named kind ("sqlite" or "chromem").
func Open(kind, dbPath string) (Backend, error) {
	switch kind {
	case "sqlite", "":
		return NewSQLiteBackend(dbPath)
	case "chromem":
		return NewChromemBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
