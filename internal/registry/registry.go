// Package registry owns the mapping of market id to market record:
// creation, the explicit lock transition, and one-shot resolution.
//
// Market lifecycle: Open → Locked (time-derived or explicit) → Resolved
// (terminal). A market is immutable once resolved except for claims
// against its positions.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/auth"
	"github.com/oddspool/settle-engine/internal/model"
	"github.com/oddspool/settle-engine/internal/store"
)

// Registry is the market component. Creation and resolution require the
// injected authorization gate; locking is purely time-gated.
type Registry struct {
	store store.Store
	gate  auth.Gate

	// now is swappable for deadline tests.
	now func() time.Time
}

// New creates a registry over the given store and authorization gate.
func New(st store.Store, gate auth.Gate) *Registry {
	return &Registry{store: st, gate: gate, now: time.Now}
}

// SetNow overrides the clock. Test hook only.
func (r *Registry) SetNow(now func() time.Time) { r.now = now }

// Create opens a new market ending at deadline (unix seconds). Only an
// administrator may create markets, and the deadline must be strictly in
// the future. Returns the new market's id.
func (r *Registry) Create(ctx context.Context, caller, question string, deadline int64) (uint64, error) {
	if !r.gate.IsAdmin(caller) {
		return 0, fmt.Errorf("create market: %w", model.ErrUnauthorized)
	}
	if deadline <= r.now().Unix() {
		return 0, fmt.Errorf("create market: %w", model.ErrInvalidDeadline)
	}

	m := &model.Market{
		Question:          question,
		Deadline:          deadline,
		TotalYesMargin:    uint256.NewInt(0),
		TotalNoMargin:     uint256.NewInt(0),
		TotalYesEffective: uint256.NewInt(0),
		TotalNoEffective:  uint256.NewInt(0),
		Active:            true,
		CreatedAt:         r.now().UTC(),
	}
	return r.store.CreateMarket(ctx, m)
}

// Lock explicitly deactivates a market whose deadline has passed, without
// resolving it. Idempotent: locking a locked market is a no-op. Locking
// needs no capability — it only makes the time-derived state explicit.
func (r *Registry) Lock(ctx context.Context, id uint64) error {
	m, err := r.store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return fmt.Errorf("lock market %d: %w", id, model.ErrAlreadyResolved)
	}
	if r.now().Unix() < m.Deadline {
		return fmt.Errorf("lock market %d: %w", id, model.ErrMarketNotLockable)
	}
	if !m.Active {
		return nil
	}
	return r.store.SetMarketLocked(ctx, id)
}

// Resolve fixes the market's outcome exactly once and deactivates it.
// Only an administrator may resolve.
func (r *Registry) Resolve(ctx context.Context, caller string, id uint64, outcomeYes bool) error {
	if !r.gate.IsAdmin(caller) {
		return fmt.Errorf("resolve market %d: %w", id, model.ErrUnauthorized)
	}
	m, err := r.store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return fmt.Errorf("resolve market %d: %w", id, model.ErrAlreadyResolved)
	}
	return r.store.SetMarketResolved(ctx, id, outcomeYes)
}

// Get returns a read-only snapshot of the market.
func (r *Registry) Get(ctx context.Context, id uint64) (*model.Market, error) {
	return r.store.GetMarket(ctx, id)
}

// List returns all markets ordered by id; the newest round is the last.
func (r *Registry) List(ctx context.Context) ([]model.Market, error) {
	return r.store.ListMarkets(ctx)
}

// Count returns the number of markets ever created.
func (r *Registry) Count(ctx context.Context) (uint64, error) {
	return r.store.MarketCount(ctx)
}
