// Package tier moves memories between retention tiers, decays their
// significance and expires the ones that stopped mattering.
package tier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/episodic-memory/internal/config"
	"github.com/rcliao/episodic-memory/internal/model"
	"github.com/rcliao/episodic-memory/internal/vectorstore"
)

// Payload keys written by the tier manager.
const (
	keySignificance      = "overall_significance"
	keyLabel             = "significance_tier"
	keyPromotionDate     = "tier_promotion_date"
	keyPromotionReason   = "tier_promotion_reason"
	keyDemotionDate      = "tier_demotion_date"
	keyDemotionReason    = "tier_demotion_reason"
	keyLastDecay         = "last_decay_update"
	keyProtection        = "decay_protection"
	keyProtectionReason  = "protection_reason"
	keyProtectionDate    = "protection_date"
	keyProtectionHistory = "protection_history"
)

// Protection audit actions.
const (
	ActionProtect   = "protect"
	ActionUnprotect = "unprotect"
)

var rank = map[model.Tier]int{model.TierShort: 0, model.TierMedium: 1, model.TierLong: 2}

// Initial picks the tier of a new memory.
func Initial(significance, intensity float64) model.Tier {
	switch {
	case significance >= 0.75 || intensity >= 0.8:
		return model.TierLong
	case significance >= 0.45 || intensity >= 0.5:
		return model.TierMedium
	default:
		return model.TierShort
	}
}

// Manager runs tier transitions against a backend.
type Manager struct {
	backend vectorstore.Backend
	cfg     config.TierConfig
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a manager. A nil now uses the wall clock.
func New(b vectorstore.Backend, cfg config.TierConfig, log zerolog.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{backend: b, cfg: cfg, log: log, now: now}
}

// SweepReport counts what a tier sweep did.
type SweepReport struct {
	RunID     string `json:"run_id"`
	Promoted  int    `json:"promoted"`
	Demoted   int    `json:"demoted"`
	Expired   int    `json:"expired"`
	Protected int    `json:"protected"`
	Errors    int    `json:"errors"`
}

// Sweep applies the age and significance rules to every memory of the
// tenant. Age counts from the last tier change, so a second sweep right
// after the first finds nothing to do. Writes landing during the sweep may
// be missed until the next run.
func (m *Manager) Sweep(ctx context.Context, t model.TenantKey) (SweepReport, error) {
	rep := SweepReport{RunID: uuid.NewString()}
	if err := t.Validate(); err != nil {
		return rep, err
	}
	mems, bad, err := m.load(ctx, t)
	if err != nil {
		return rep, err
	}
	rep.Errors += bad

	now := m.now()
	for _, mem := range mems {
		if mem.DecayProtection {
			rep.Protected++
			continue
		}
		age := model.AgeDays(mem.TierChangedAt(), now)
		sig, intensity := mem.Overall, mem.EmotionIntensity

		var err error
		switch mem.Tier {
		case model.TierShort:
			switch {
			case age >= 3 && (sig >= 0.6 || intensity >= 0.7):
				if err = m.setTier(ctx, mem.ID, model.TierMedium, true, "age_significance", now); err == nil {
					rep.Promoted++
				}
			case age >= 7 && sig < 0.3:
				if err = m.backend.Delete(ctx, mem.ID); err == nil {
					rep.Expired++
				}
			}
		case model.TierMedium:
			switch {
			case age >= 7 && (sig >= 0.8 || intensity >= 0.9):
				if err = m.setTier(ctx, mem.ID, model.TierLong, true, "high_significance", now); err == nil {
					rep.Promoted++
				}
			case age >= 14 && sig < 0.4:
				if err = m.setTier(ctx, mem.ID, model.TierShort, false, "lost_relevance", now); err == nil {
					rep.Demoted++
				}
			}
		}
		if err != nil {
			rep.Errors++
			m.log.Warn().Err(err).Str("memory_id", mem.ID).Msg("tier sweep: skip record")
		}
	}

	m.log.Info().
		Str("run_id", rep.RunID).
		Str("tenant", t.String()).
		Int("promoted", rep.Promoted).
		Int("demoted", rep.Demoted).
		Int("expired", rep.Expired).
		Int("protected", rep.Protected).
		Int("errors", rep.Errors).
		Msg("tier sweep")
	return rep, nil
}

// DecayReport counts what a decay pass did.
type DecayReport struct {
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Decayed   int    `json:"decayed"`
	Protected int    `json:"protected"`
	Deleted   int    `json:"deleted"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

var tierMultiplier = map[model.Tier]float64{
	model.TierShort:  1.0,
	model.TierMedium: 0.5,
	model.TierLong:   0.1,
}

// DecayedSignificance is the significance after one decay step of rate.
func DecayedSignificance(sig float64, tier model.Tier, ageDays int, rate float64) float64 {
	mult, ok := tierMultiplier[tier]
	if !ok {
		mult = 1.0
	}
	eff := rate * mult * min(1+float64(ageDays)/30, 3)
	switch {
	case sig >= 0.8:
		eff *= 0.1
	case sig >= 0.6:
		eff *= 0.3
	}
	return max(0, sig-eff)
}

// Decay lowers the significance of every unprotected memory of the tenant
// and deletes short-term memories that fall under 0.05. Memories decayed
// less than DecayInterval ago are skipped.
func (m *Manager) Decay(ctx context.Context, t model.TenantKey, rate float64) (DecayReport, error) {
	rep := DecayReport{RunID: uuid.NewString()}
	if err := t.Validate(); err != nil {
		return rep, err
	}
	if rate <= 0 || rate >= 1 {
		return rep, &model.ValidationError{Field: "decay_rate", Reason: fmt.Sprintf("%v not in (0,1)", rate)}
	}
	mems, bad, err := m.load(ctx, t)
	if err != nil {
		return rep, err
	}
	rep.Errors += bad

	now := m.now()
	for _, mem := range mems {
		rep.Processed++
		if mem.DecayProtection {
			rep.Protected++
			continue
		}
		if mem.LastDecayUpdate != nil && now.Sub(*mem.LastDecayUpdate) < m.cfg.DecayInterval {
			rep.Skipped++
			continue
		}

		next := DecayedSignificance(mem.Overall, mem.Tier, model.AgeDays(mem.Timestamp, now), rate)
		var err error
		switch {
		case mem.Tier == model.TierShort && next < 0.05:
			if err = m.backend.Delete(ctx, mem.ID); err == nil {
				rep.Deleted++
			}
		case next != mem.Overall:
			err = m.backend.SetPayload(ctx, mem.ID, vectorstore.Payload{
				keySignificance: next,
				keyLabel:        model.SignificanceLabel(next),
				keyLastDecay:    now,
			})
			if err == nil {
				rep.Decayed++
			}
		}
		if err != nil {
			rep.Errors++
			m.log.Warn().Err(err).Str("memory_id", mem.ID).Msg("decay: skip record")
		}
	}

	m.log.Info().
		Str("run_id", rep.RunID).
		Str("tenant", t.String()).
		Float64("rate", rate).
		Int("processed", rep.Processed).
		Int("decayed", rep.Decayed).
		Int("protected", rep.Protected).
		Int("deleted", rep.Deleted).
		Int("skipped", rep.Skipped).
		Int("errors", rep.Errors).
		Msg("memory decay")
	return rep, nil
}

// Protect exempts a memory from sweeps and decay.
func (m *Manager) Protect(ctx context.Context, t model.TenantKey, id, reason string) error {
	return m.setProtection(ctx, t, id, true, reason)
}

// Unprotect returns a memory to normal lifecycle handling.
func (m *Manager) Unprotect(ctx context.Context, t model.TenantKey, id, reason string) error {
	return m.setProtection(ctx, t, id, false, reason)
}

func (m *Manager) setProtection(ctx context.Context, t model.TenantKey, id string, on bool, reason string) error {
	mem, err := m.Get(ctx, t, id)
	if err != nil {
		return err
	}
	now := m.now()
	action := ActionProtect
	if !on {
		action = ActionUnprotect
	}
	history := append(mem.ProtectionHistory, model.ProtectionEvent{Action: action, Reason: reason, At: now})

	payload := vectorstore.Payload{
		keyProtection:        on,
		keyProtectionHistory: history,
	}
	if on {
		payload[keyProtectionReason] = reason
		payload[keyProtectionDate] = now
	} else {
		payload[keyProtectionReason] = nil
		payload[keyProtectionDate] = nil
	}
	if err := m.backend.SetPayload(ctx, id, payload); err != nil {
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	m.log.Info().Str("memory_id", id).Str("action", action).Str("reason", reason).Msg("decay protection")
	return nil
}

// Promote moves a memory to a higher tier.
func (m *Manager) Promote(ctx context.Context, t model.TenantKey, id string, to model.Tier, reason string) error {
	mem, err := m.Get(ctx, t, id)
	if err != nil {
		return err
	}
	if !model.ValidTiers[to] || rank[to] <= rank[mem.Tier] {
		return &model.ValidationError{Field: "tier", Reason: fmt.Sprintf("cannot promote %s to %s", mem.Tier, to)}
	}
	return m.setTier(ctx, id, to, true, reason, m.now())
}

// Demote moves a memory to a lower tier. Protected memories cannot be demoted.
func (m *Manager) Demote(ctx context.Context, t model.TenantKey, id string, to model.Tier, reason string) error {
	mem, err := m.Get(ctx, t, id)
	if err != nil {
		return err
	}
	if mem.DecayProtection {
		return &model.ValidationError{Field: "tier", Reason: fmt.Sprintf("memory %s is protected", id)}
	}
	if !model.ValidTiers[to] || rank[to] >= rank[mem.Tier] {
		return &model.ValidationError{Field: "tier", Reason: fmt.Sprintf("cannot demote %s to %s", mem.Tier, to)}
	}
	return m.setTier(ctx, id, to, false, reason, m.now())
}

func (m *Manager) setTier(ctx context.Context, id string, to model.Tier, up bool, reason string, now time.Time) error {
	payload := vectorstore.Payload{model.FieldTier: string(to)}
	if up {
		payload[keyPromotionDate] = now
		payload[keyPromotionReason] = reason
	} else {
		payload[keyDemotionDate] = now
		payload[keyDemotionReason] = reason
	}
	if err := m.backend.SetPayload(ctx, id, payload); err != nil {
		return fmt.Errorf("move %s to %s: %w", id, to, err)
	}
	m.log.Debug().Str("memory_id", id).Str("tier", string(to)).Str("reason", reason).Msg("tier change")
	return nil
}

// ListByTier returns the tenant's memories in one tier, most significant first.
func (m *Manager) ListByTier(ctx context.Context, t model.TenantKey, tier model.Tier, limit int) ([]model.Memory, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !model.ValidTiers[tier] {
		return nil, &model.ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	pts, err := vectorstore.ScrollAll(ctx, m.backend, vectorstore.ScrollRequest{
		Filter: vectorstore.TenantFilter(t).With(model.FieldTier, string(tier)),
	}, m.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	mems := decodeAll(pts, m.log)
	sort.SliceStable(mems, func(i, j int) bool {
		if mems[i].Overall != mems[j].Overall {
			return mems[i].Overall > mems[j].Overall
		}
		return mems[i].Timestamp.After(mems[j].Timestamp)
	})
	if limit > 0 && len(mems) > limit {
		mems = mems[:limit]
	}
	return mems, nil
}

// ListProtected returns the tenant's protected memories, latest protection first.
func (m *Manager) ListProtected(ctx context.Context, t model.TenantKey) ([]model.Memory, error) {
	mems, _, err := m.load(ctx, t)
	if err != nil {
		return nil, err
	}
	var out []model.Memory
	for _, mem := range mems {
		if mem.DecayProtection {
			out = append(out, mem)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return protectedAt(out[i]).After(protectedAt(out[j]))
	})
	return out, nil
}

func protectedAt(m model.Memory) time.Time {
	if m.ProtectionDate != nil {
		return *m.ProtectionDate
	}
	return time.Time{}
}

// Candidate is a memory at risk of decay.
type Candidate struct {
	Memory  model.Memory `json:"memory"`
	AgeDays int          `json:"age_days"`
}

// DecayCandidates lists unprotected memories with significance at or below
// threshold, lowest significance first and older first among equals.
func (m *Manager) DecayCandidates(ctx context.Context, t model.TenantKey, threshold float64, limit int) ([]Candidate, error) {
	mems, _, err := m.load(ctx, t)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []Candidate
	for _, mem := range mems {
		if mem.DecayProtection || mem.Overall > threshold {
			continue
		}
		out = append(out, Candidate{Memory: mem, AgeDays: model.AgeDays(mem.Timestamp, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Memory.Overall != out[j].Memory.Overall {
			return out[i].Memory.Overall < out[j].Memory.Overall
		}
		return out[i].AgeDays > out[j].AgeDays
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// load collects every memory of the tenant before any of them is changed,
// so deletes cannot shift the scroll pages. It reports undecodable records.
func (m *Manager) load(ctx context.Context, t model.TenantKey) ([]model.Memory, int, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	pts, err := vectorstore.ScrollAll(ctx, m.backend, vectorstore.ScrollRequest{
		Filter:  vectorstore.TenantFilter(t),
		OrderBy: model.FieldTimestampUnix,
	}, m.cfg.BatchSize)
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: %w", t, err)
	}
	mems := decodeAll(pts, m.log)
	return mems, len(pts) - len(mems), nil
}

// Get fetches one memory and checks that it belongs to the tenant.
func (m *Manager) Get(ctx context.Context, t model.TenantKey, id string) (model.Memory, error) {
	if err := t.Validate(); err != nil {
		return model.Memory{}, err
	}
	p, err := m.backend.Get(ctx, id, false)
	if err != nil {
		return model.Memory{}, err
	}
	mem, err := vectorstore.Decode(p)
	if err != nil {
		return model.Memory{}, err
	}
	if mem.Tenant() != t {
		return model.Memory{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return mem, nil
}

func decodeAll(pts []vectorstore.Point, log zerolog.Logger) []model.Memory {
	out := make([]model.Memory, 0, len(pts))
	for _, p := range pts {
		mem, err := vectorstore.Decode(p)
		if err != nil {
			log.Warn().Err(err).Str("memory_id", p.ID).Msg("undecodable record")
			continue
		}
		out = append(out, mem)
	}
	return out
}
