package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/episodic-memory/internal/model"
)

// timeoutBackend bounds every call of the wrapped backend.
type timeoutBackend struct {
	next    Backend
	timeout time.Duration
}

// WithTimeout wraps b so every call runs under its own deadline. A call that
// runs out of time fails with model.ErrBackendUnavailable.
func WithTimeout(b Backend, d time.Duration) Backend {
	if d <= 0 {
		return b
	}
	return &timeoutBackend{next: b, timeout: d}
}

func (t *timeoutBackend) do(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrBackendUnavailable) {
		return fmt.Errorf("%w: %s: %v", model.ErrBackendUnavailable, op, err)
	}
	return err
}

func (t *timeoutBackend) EnsureCollection(ctx context.Context, vectors map[string]VectorParams) error {
	return t.do(ctx, "ensure collection", func(ctx context.Context) error {
		return t.next.EnsureCollection(ctx, vectors)
	})
}

func (t *timeoutBackend) Upsert(ctx context.Context, p Point, wait bool) error {
	return t.do(ctx, "upsert", func(ctx context.Context) error {
		return t.next.Upsert(ctx, p, wait)
	})
}

func (t *timeoutBackend) Get(ctx context.Context, id string, withVectors bool) (p Point, err error) {
	err = t.do(ctx, "get", func(ctx context.Context) error {
		p, err = t.next.Get(ctx, id, withVectors)
		return err
	})
	return p, err
}

func (t *timeoutBackend) Search(ctx context.Context, req SearchRequest) (out []ScoredPoint, err error) {
	err = t.do(ctx, "search", func(ctx context.Context) error {
		out, err = t.next.Search(ctx, req)
		return err
	})
	return out, err
}

func (t *timeoutBackend) Scroll(ctx context.Context, req ScrollRequest) (out []Point, err error) {
	err = t.do(ctx, "scroll", func(ctx context.Context) error {
		out, err = t.next.Scroll(ctx, req)
		return err
	})
	return out, err
}

func (t *timeoutBackend) RecommendContrast(ctx context.Context, req RecommendRequest) (out []ScoredPoint, err error) {
	err = t.do(ctx, "recommend", func(ctx context.Context) error {
		out, err = t.next.RecommendContrast(ctx, req)
		return err
	})
	return out, err
}

func (t *timeoutBackend) SetPayload(ctx context.Context, id string, payload Payload) error {
	return t.do(ctx, "set payload", func(ctx context.Context) error {
		return t.next.SetPayload(ctx, id, payload)
	})
}

func (t *timeoutBackend) Delete(ctx context.Context, id string) error {
	return t.do(ctx, "delete", func(ctx context.Context) error {
		return t.next.Delete(ctx, id)
	})
}

func (t *timeoutBackend) Count(ctx context.Context, f Filter) (n int, err error) {
	err = t.do(ctx, "count", func(ctx context.Context) error {
		n, err = t.next.Count(ctx, f)
		return err
	})
	return n, err
}

func (t *timeoutBackend) Close() error { return t.next.Close() }
