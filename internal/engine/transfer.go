package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// Export returns every memory of the tenant, oldest first, without vectors.
func (e *Engine) Export(ctx context.Context, t model.TenantKey) ([]model.Memory, error) {
	defer e.stats.observe("export", time.Now())
	if err := t.Validate(); err != nil {
		return nil, err
	}
	pts, err := vectorstore.ScrollAll(ctx, e.backend, vectorstore.ScrollRequest{
		Filter:  vectorstore.TenantFilter(t),
		OrderBy: model.FieldTimestampUnix,
	}, e.cfg.Tier.BatchSize)
	if err != nil {
		e.stats.fail("export")
		return nil, fmt.Errorf("export %s: %w", t, err)
	}
	out := make([]model.Memory, 0, len(pts))
	for _, p := range pts {
		mem, err := vectorstore.Decode(p)
		if err != nil {
			e.log.Warn().Err(err).Str("memory_id", p.ID).Msg("skipping undecodable record")
			continue
		}
		out = append(out, mem)
	}
	return out, nil
}

// Import stores exported memories for the tenant. Each record is written
// through Store, so vectors and analysis are recomputed and content the
// tenant already has is skipped. It returns the number of records processed.
func (e *Engine) Import(ctx context.Context, t model.TenantKey, mems []model.Memory) (int, error) {
	imported := 0
	for _, m := range mems {
		_, err := e.Store(ctx, StoreParams{
			Tenant:     t,
			Kind:       m.Kind,
			Content:    m.Content,
			Confidence: m.Confidence,
			Source:     m.Source,
			Metadata:   m.Metadata,
		})
		if err != nil {
			return imported, fmt.Errorf("import %s: %w", m.ID, err)
		}
		imported++
	}
	return imported, nil
}
