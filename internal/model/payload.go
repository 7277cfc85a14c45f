package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload field names used in backend filters and ordering.
const (
	FieldUserID        = "user_id"
	FieldAgentID       = "agent_id"
	FieldKind          = "memory_type"
	FieldContentHash   = "content_hash"
	FieldSemanticKey   = "semantic_key"
	FieldTier          = "memory_tier"
	FieldTimestampUnix = "timestamp_unix"
)

// ContentHash is the dedup key of a text: sha256 of its trimmed lowercase form.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(content))))
	return hex.EncodeToString(sum[:])
}

// Payload flattens the memory into backend payload form.
func (m Memory) Payload() (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var p map[string]any
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	p[FieldTimestampUnix] = float64(m.Timestamp.UnixNano()) / 1e9
	return p, nil
}

// NamedVectors converts the vectors to backend form.
func (m Memory) NamedVectors() map[string][]float32 {
	out := make(map[string][]float32, len(m.Vectors))
	for d, v := range m.Vectors {
		out[string(d)] = v
	}
	return out
}

// FromPayload rebuilds a memory from a stored point.
func FromPayload(id string, payload map[string]any, vectors map[string][]float32) (Memory, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Memory{}, fmt.Errorf("decode payload %s: %w", id, err)
	}
	var m Memory
	if err := json.Unmarshal(b, &m); err != nil {
		return Memory{}, fmt.Errorf("decode payload %s: %w", id, err)
	}
	m.ID = id
	if len(vectors) > 0 {
		m.Vectors = make(map[Dimension][]float32, len(vectors))
		for name, v := range vectors {
			m.Vectors[Dimension(name)] = v
		}
	}
	return m, nil
}
