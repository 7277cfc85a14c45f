package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/episodic-memory/internal/embedding"
	"github.com/rcliao/episodic-memory/internal/model"
)

// SQLiteBackend implements Backend on a single SQLite file. Payloads are
// JSON documents filtered with json_extract; similarity is computed in Go
// over the candidate rows that pass the filter.
type SQLiteBackend struct {
	db *sql.DB

	mu     sync.RWMutex
	params map[string]VectorParams
}

// NewSQLiteBackend opens or creates a SQLite database at the given path.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteBackend{db: db, params: map[string]VectorParams{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.loadParams(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load vector params: %w", err)
	}
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vector_spaces (
		name   TEXT PRIMARY KEY,
		size   INTEGER NOT NULL,
		metric TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS points (
		id         TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_tenant ON points(
		json_extract(payload, '$.user_id'),
		json_extract(payload, '$.agent_id')
	);
	CREATE INDEX IF NOT EXISTS idx_points_hash ON points(json_extract(payload, '$.content_hash'));

	CREATE TABLE IF NOT EXISTS point_vectors (
		point_id TEXT NOT NULL REFERENCES points(id) ON DELETE CASCADE,
		name     TEXT NOT NULL,
		data     BLOB NOT NULL,
		PRIMARY KEY (point_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_point_vectors_name ON point_vectors(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackend) loadParams() error {
	rows, err := s.db.Query(`SELECT name, size, metric FROM vector_spaces`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var name string
		var vp VectorParams
		if err := rows.Scan(&name, &vp.Size, &vp.Metric); err != nil {
			return err
		}
		s.params[name] = vp
	}
	return rows.Err()
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) EnsureCollection(ctx context.Context, vectors map[string]VectorParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, vp := range vectors {
		if vp.Metric == "" {
			vp.Metric = Cosine
		}
		if existing, ok := s.params[name]; ok {
			if existing.Size != vp.Size {
				return fmt.Errorf("vector %q exists with %d dims, requested %d", name, existing.Size, vp.Size)
			}
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO vector_spaces (name, size, metric) VALUES (?, ?, ?)`, name, vp.Size, vp.Metric)
		if err != nil {
			return unavailable("ensure collection", err)
		}
		s.params[name] = vp
	}
	return nil
}

func (s *SQLiteBackend) vectorParams() map[string]VectorParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]VectorParams, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Upsert writes inside a transaction that commits before returning, so
// wait is always honored.
func (s *SQLiteBackend) Upsert(ctx context.Context, p Point, wait bool) error {
	if p.ID == "" {
		return fmt.Errorf("upsert: empty id")
	}
	if err := checkVectors(s.vectorParams(), p.Vectors); err != nil {
		return fmt.Errorf("upsert %s: %w", p.ID, err)
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("upsert %s: encode payload: %w", p.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin upsert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO points (id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		p.ID, string(payload), now)
	if err != nil {
		return unavailable("upsert point", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM point_vectors WHERE point_id = ?`, p.ID); err != nil {
		return unavailable("clear vectors", err)
	}
	for name, v := range p.Vectors {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO point_vectors (point_id, name, data) VALUES (?, ?, ?)`,
			p.ID, name, encodeVector(v))
		if err != nil {
			return unavailable("insert vector", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit upsert", err)
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, id string, withVectors bool) (Point, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM points WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Point{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return Point{}, unavailable("get", err)
	}

	p := Point{ID: id}
	if p.Payload, err = decodePayload(raw); err != nil {
		return Point{}, err
	}
	if withVectors {
		vecs, err := s.loadVectors(ctx, []string{id})
		if err != nil {
			return Point{}, err
		}
		p.Vectors = vecs[id]
	}
	return p, nil
}

func (s *SQLiteBackend) Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error) {
	return s.scan(ctx, req.Vector, req.Query, req.Filter, req.Limit, req.ScoreThreshold, req.WithVectors)
}

func (s *SQLiteBackend) RecommendContrast(ctx context.Context, req RecommendRequest) ([]ScoredPoint, error) {
	query := ContrastQuery(req.Positive, req.Negative)
	if query == nil {
		return nil, fmt.Errorf("recommend: no positive examples")
	}
	return s.scan(ctx, req.Vector, query, req.Filter, req.Limit, req.ScoreThreshold, req.WithVectors)
}

// scan scores every filtered point that carries the named vector.
func (s *SQLiteBackend) scan(ctx context.Context, vector string, query []float32, f Filter, limit int, threshold *float64, withVectors bool) ([]ScoredPoint, error) {
	vp, ok := s.vectorParams()[vector]
	if !ok {
		return nil, fmt.Errorf("unknown vector %q", vector)
	}

	where, args, err := whereClause(f)
	if err != nil {
		return nil, err
	}
	q := `SELECT p.id, p.payload, v.data FROM point_vectors v
		  JOIN points p ON p.id = v.point_id
		  WHERE v.name = ?`
	if where != "" {
		q += " AND " + where
	}
	rows, err := s.db.QueryContext(ctx, q, append([]any{vector}, args...)...)
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer rows.Close()

	var scored []ScoredPoint
	for rows.Next() {
		var id, raw string
		var data []byte
		if err := rows.Scan(&id, &raw, &data); err != nil {
			return nil, unavailable("search scan", err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredPoint{
			ID:      id,
			Score:   similarity(vp.Metric, query, decodeVector(data)),
			Payload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search rows", err)
	}

	scored = rank(scored, threshold, limit)
	if withVectors && len(scored) > 0 {
		ids := make([]string, len(scored))
		for i, p := range scored {
			ids[i] = p.ID
		}
		vecs, err := s.loadVectors(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range scored {
			scored[i].Vectors = vecs[scored[i].ID]
		}
	}
	return scored, nil
}

func (s *SQLiteBackend) Scroll(ctx context.Context, req ScrollRequest) ([]Point, error) {
	where, args, err := whereClause(req.Filter)
	if err != nil {
		return nil, err
	}
	q := `SELECT p.id, p.payload FROM points p`
	if where != "" {
		q += " WHERE " + where
	}
	if req.OrderBy != "" {
		if !validField.MatchString(req.OrderBy) {
			return nil, fmt.Errorf("invalid order field %q", req.OrderBy)
		}
		dir := "ASC"
		if req.Descending {
			dir = "DESC"
		}
		q += fmt.Sprintf(" ORDER BY CAST(json_extract(p.payload, '$.%s') AS REAL) %s, p.id", req.OrderBy, dir)
	} else {
		q += " ORDER BY p.id"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = -1
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, limit, req.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("scroll", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var raw string
		if err := rows.Scan(&p.ID, &raw); err != nil {
			return nil, unavailable("scroll scan", err)
		}
		if p.Payload, err = decodePayload(raw); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scroll rows", err)
	}

	if req.WithVectors && len(points) > 0 {
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = p.ID
		}
		vecs, err := s.loadVectors(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range points {
			points[i].Vectors = vecs[points[i].ID]
		}
	}
	return points, nil
}

func (s *SQLiteBackend) SetPayload(ctx context.Context, id string, payload Payload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin set payload", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT payload FROM points WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return unavailable("set payload", err)
	}
	current, err := decodePayload(raw)
	if err != nil {
		return err
	}
	b, err := json.Marshal(mergePayload(current, payload))
	if err != nil {
		return fmt.Errorf("set payload %s: %w", id, err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE points SET payload = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return unavailable("set payload", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit set payload", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM points WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteBackend) Count(ctx context.Context, f Filter) (int, error) {
	where, args, err := whereClause(f)
	if err != nil {
		return 0, err
	}
	q := `SELECT COUNT(*) FROM points p`
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (s *SQLiteBackend) loadVectors(ctx context.Context, ids []string) (map[string]map[string][]float32, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_id, name, data FROM point_vectors WHERE point_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, unavailable("load vectors", err)
	}
	defer rows.Close()

	out := make(map[string]map[string][]float32, len(ids))
	for rows.Next() {
		var id, name string
		var data []byte
		if err := rows.Scan(&id, &name, &data); err != nil {
			return nil, unavailable("load vectors scan", err)
		}
		if out[id] == nil {
			out[id] = map[string][]float32{}
		}
		out[id][name] = decodeVector(data)
	}
	return out, rows.Err()
}

var validField = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// whereClause renders a filter as SQL over the points alias p.
func whereClause(f Filter) (string, []any, error) {
	var conds []string
	var args []any
	field := func(k string) (string, error) {
		if !validField.MatchString(k) {
			return "", fmt.Errorf("invalid filter field %q", k)
		}
		return fmt.Sprintf("json_extract(p.payload, '$.%s')", k), nil
	}

	for _, k := range sortedKeys(f.Must) {
		col, err := field(k)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, col+" = ?")
		args = append(args, f.Must[k])
	}
	for _, k := range sortedKeys(f.Any) {
		col, err := field(k)
		if err != nil {
			return "", nil, err
		}
		values := f.Any[k]
		if len(values) == 0 {
			conds = append(conds, "0")
			continue
		}
		conds = append(conds, col+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")+")")
		for _, v := range values {
			args = append(args, v)
		}
	}
	for _, k := range sortedKeys(f.Range) {
		col, err := field(k)
		if err != nil {
			return "", nil, err
		}
		r := f.Range[k]
		if r.Gte != nil {
			conds = append(conds, "CAST("+col+" AS REAL) >= ?")
			args = append(args, *r.Gte)
		}
		if r.Lte != nil {
			conds = append(conds, "CAST("+col+" AS REAL) <= ?")
			args = append(args, *r.Lte)
		}
	}
	return strings.Join(conds, " AND "), args, nil
}

func similarity(metric string, a, b []float32) float64 {
	if metric == Dot {
		if len(a) != len(b) {
			return 0
		}
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}
	return embedding.CosineSimilarity(a, b)
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func decodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrBackendUnavailable, op, err)
}
