// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/model"
)

// Store is the persistence interface. Market and position ids are
// allocated by the store, monotonically from 0, so clients can address
// the newest round as count-1.
type Store interface {
	// --- Escrow balances ---

	// GetBalance returns the user's balance, zero for unknown users.
	GetBalance(ctx context.Context, user string) (*uint256.Int, error)

	// CreditBalance adds amount to the user's balance, creating the row
	// if needed.
	CreditBalance(ctx context.Context, user string, amount *uint256.Int) error

	// DebitBalance subtracts amount, failing with ErrInsufficientBalance
	// if the balance would go negative. The check and the subtraction are
	// a single atomic step.
	DebitBalance(ctx context.Context, user string, amount *uint256.Int) error

	// --- Markets ---

	// CreateMarket persists a new market and returns its id.
	CreateMarket(ctx context.Context, m *model.Market) (uint64, error)

	// GetMarket retrieves a market snapshot by id.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets ordered by id.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// MarketCount returns the number of markets ever created.
	MarketCount(ctx context.Context) (uint64, error)

	// UpdateMarketPools replaces the four pool totals after a position opens.
	UpdateMarketPools(ctx context.Context, id uint64, yesMargin, noMargin, yesEff, noEff *uint256.Int) error

	// SetMarketLocked clears the active flag without resolving.
	SetMarketLocked(ctx context.Context, id uint64) error

	// SetMarketResolved records the outcome and deactivates the market.
	SetMarketResolved(ctx context.Context, id uint64, outcomeYes bool) error

	// --- Positions ---

	// CreatePosition persists a new position, appends it to the trader's
	// index, and returns its id.
	CreatePosition(ctx context.Context, p *model.Position) (uint64, error)

	// GetPosition retrieves a position snapshot by id.
	GetPosition(ctx context.Context, id uint64) (*model.Position, error)

	// PositionIDsOf returns the trader's position ids in open order.
	PositionIDsOf(ctx context.Context, trader string) ([]uint64, error)

	// HasPositionInMarket reports whether the trader holds any position
	// on the given market.
	HasPositionInMarket(ctx context.Context, trader string, marketID uint64) (bool, error)

	// MarkPositionClaimed sets the claimed flag.
	MarkPositionClaimed(ctx context.Context, id uint64) error

	// --- Immutable journal ---

	// InsertJournalEntry appends an immutable balance-mutation record.
	InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error

	// JournalOf returns all journal entries for a user in time order.
	JournalOf(ctx context.Context, user string) ([]model.JournalEntry, error)
}
