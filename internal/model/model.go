// Package model defines the core domain types shared across the settlement
// engine. All monetary values are wei amounts held as uint256 — never
// float64 for money.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Market is one binary YES/NO round. Margin totals are raw staked wei per
// side; effective totals are margin·leverage sums and determine each
// winner's share of the losing pool. Once Resolved is true the record is
// immutable except for claims against its positions.
type Market struct {
	ID                uint64       `json:"id" db:"id"`
	Question          string       `json:"question" db:"question"`
	Deadline          int64        `json:"deadline" db:"deadline"` // unix seconds
	Resolved          bool         `json:"resolved" db:"resolved"`
	OutcomeYes        bool         `json:"outcome_yes" db:"outcome_yes"` // meaningful only if Resolved
	TotalYesMargin    *uint256.Int `json:"total_yes_margin" db:"total_yes_margin"`
	TotalNoMargin     *uint256.Int `json:"total_no_margin" db:"total_no_margin"`
	TotalYesEffective *uint256.Int `json:"total_yes_effective" db:"total_yes_effective"`
	TotalNoEffective  *uint256.Int `json:"total_no_effective" db:"total_no_effective"`
	Active            bool         `json:"active" db:"active"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

// Locked reports whether the market has passed its deadline or been
// explicitly deactivated without being resolved yet.
func (m *Market) Locked(now time.Time) bool {
	if m.Resolved {
		return false
	}
	return !m.Active || now.Unix() >= m.Deadline
}

// Position is a single trader's stake on one side of one market.
// MarginWei·Leverage is the position's effective weight, fixed at open
// time; leverage never changes after open.
type Position struct {
	ID        uint64       `json:"id" db:"id"`
	Trader    string       `json:"trader" db:"trader"`
	MarketID  uint64       `json:"market_id" db:"market_id"`
	SideYes   bool         `json:"side_yes" db:"side_yes"`
	MarginWei *uint256.Int `json:"margin_wei" db:"margin_wei"`
	Leverage  uint8        `json:"leverage" db:"leverage"`
	Claimed   bool         `json:"claimed" db:"claimed"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Journal entry kinds.
const (
	JournalDeposit  = "deposit"
	JournalWithdraw = "withdraw"
	JournalStake    = "stake"
	JournalPayout   = "payout"
)

// JournalEntry is an immutable record of one balance mutation.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	User       string       `json:"user" db:"user_addr"`
	Kind       string       `json:"kind" db:"kind"`
	Amount     *uint256.Int `json:"amount" db:"amount"`
	MarketID   *uint64      `json:"market_id,omitempty" db:"market_id"`
	PositionID *uint64      `json:"position_id,omitempty" db:"position_id"`
	Timestamp  time.Time    `json:"timestamp" db:"timestamp"`
}
