package vectorstore

import (
	"context"

	"github.com/rcliao/episodic-memory/internal/model"
)

// TenantFilter matches every point owned by the tenant.
func TenantFilter(t model.TenantKey) Filter {
	return Filter{Must: map[string]string{
		model.FieldUserID:  t.UserID,
		model.FieldAgentID: t.AgentID,
	}}
}

// With returns a copy of f with an extra exact-match condition.
func (f Filter) With(field, value string) Filter {
	out := Filter{Must: map[string]string{}, Any: f.Any, Range: f.Range}
	for k, v := range f.Must {
		out.Must[k] = v
	}
	out.Must[field] = value
	return out
}

// ScrollAll pages through every point matching req in batches of size
// batch. req.Limit caps the total; zero means no cap.
func ScrollAll(ctx context.Context, b Backend, req ScrollRequest, batch int) ([]Point, error) {
	if batch <= 0 {
		batch = 256
	}
	total := req.Limit
	var out []Point
	for offset := req.Offset; ; offset += batch {
		page := req
		page.Offset = offset
		page.Limit = batch
		if total > 0 && total-len(out) < batch {
			page.Limit = total - len(out)
		}
		pts, err := b.Scroll(ctx, page)
		if err != nil {
			return out, err
		}
		out = append(out, pts...)
		if len(pts) < page.Limit || (total > 0 && len(out) >= total) {
			return out, nil
		}
	}
}

// Decode converts a stored point into a memory.
func Decode(p Point) (model.Memory, error) {
	return model.FromPayload(p.ID, p.Payload, p.Vectors)
}

// Encode converts a memory into a point.
func Encode(m model.Memory) (Point, error) {
	payload, err := m.Payload()
	if err != nil {
		return Point{}, err
	}
	return Point{ID: m.ID, Vectors: m.NamedVectors(), Payload: payload}, nil
}
