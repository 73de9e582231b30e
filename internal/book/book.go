// Package book owns position records and the per-user position index,
// and enforces the one-position gate and the permitted leverage set.
package book

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/model"
	"github.com/oddspool/settle-engine/internal/store"
)

// Policy selects how the one-position gate is scoped: one position per
// trader across the whole book (single-round deployments), or one per
// market. Configured via market.one_position.
type Policy string

const (
	// OnePositionGlobal rejects a second position anywhere, ever.
	OnePositionGlobal Policy = "global"
	// OnePositionPerMarket rejects a second position on the same market only.
	OnePositionPerMarket Policy = "per_market"
)

// Valid reports whether p names a known policy.
func (p Policy) Valid() bool {
	return p == OnePositionGlobal || p == OnePositionPerMarket
}

// Book is the position component.
type Book struct {
	store    store.Store
	policy   Policy
	leverage map[uint8]bool
}

// New creates a book enforcing the given gating policy and leverage set.
func New(st store.Store, policy Policy, leverageSet []uint8) *Book {
	lev := make(map[uint8]bool, len(leverageSet))
	for _, l := range leverageSet {
		lev[l] = true
	}
	return &Book{store: st, policy: policy, leverage: lev}
}

// ValidateOpen checks the leverage set, the margin, and the one-position
// gate without creating anything. The settlement engine runs this before
// it touches any balance or pool, so a validation failure never needs a
// rollback.
func (b *Book) ValidateOpen(ctx context.Context, trader string, marketID uint64, leverage uint8, margin *uint256.Int) error {
	if !b.leverage[leverage] {
		return fmt.Errorf("open position: leverage %d: %w", leverage, model.ErrInvalidLeverage)
	}
	if margin == nil || margin.IsZero() {
		return fmt.Errorf("open position: %w", model.ErrInvalidMargin)
	}

	gated, err := b.gated(ctx, trader, marketID)
	if err != nil {
		return err
	}
	if gated {
		return fmt.Errorf("open position: %w", model.ErrAlreadyPositioned)
	}
	return nil
}

// Open validates and records a new position with claimed=false, appending
// it to the trader's index. Returns the new position id.
func (b *Book) Open(ctx context.Context, trader string, marketID uint64, sideYes bool, leverage uint8, margin *uint256.Int) (uint64, error) {
	if err := b.ValidateOpen(ctx, trader, marketID, leverage, margin); err != nil {
		return 0, err
	}

	p := &model.Position{
		Trader:    trader,
		MarketID:  marketID,
		SideYes:   sideYes,
		MarginWei: margin.Clone(),
		Leverage:  leverage,
		CreatedAt: time.Now().UTC(),
	}
	return b.store.CreatePosition(ctx, p)
}

// MarkClaimed flips the claimed flag exactly once; a second call fails
// with ErrAlreadyClaimed. Callers invoke this only after the payout
// computation has succeeded, so a failed payout never burns a position.
func (b *Book) MarkClaimed(ctx context.Context, id uint64) error {
	p, err := b.store.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	if p.Claimed {
		return fmt.Errorf("position %d: %w", id, model.ErrAlreadyClaimed)
	}
	return b.store.MarkPositionClaimed(ctx, id)
}

// Get returns a read-only snapshot of the position.
func (b *Book) Get(ctx context.Context, id uint64) (*model.Position, error) {
	return b.store.GetPosition(ctx, id)
}

// PositionsOf returns the trader's position ids in open order.
func (b *Book) PositionsOf(ctx context.Context, trader string) ([]uint64, error) {
	return b.store.PositionIDsOf(ctx, trader)
}

func (b *Book) gated(ctx context.Context, trader string, marketID uint64) (bool, error) {
	switch b.policy {
	case OnePositionPerMarket:
		return b.store.HasPositionInMarket(ctx, trader, marketID)
	default:
		ids, err := b.store.PositionIDsOf(ctx, trader)
		if err != nil {
			return false, err
		}
		return len(ids) > 0, nil
	}
}
