// Package ledger maintains per-user escrow balances and the immutable
// journal of every balance mutation.
//
// The ledger never goes negative: any debit that exceeds the balance is
// rejected with ErrInsufficientBalance before anything is written.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/model"
	"github.com/oddspool/settle-engine/internal/store"
)

// Ledger is the balance component. It owns no locks of its own; callers
// (the settlement engine) serialize mutating operations.
type Ledger struct {
	store store.Store
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Deposit credits amount to the user's balance and journals it. The value
// itself is presumed already received at the funds-transfer boundary;
// this only updates the internal escrow number.
func (l *Ledger) Deposit(ctx context.Context, user string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return model.ErrInvalidAmount
	}
	if err := l.store.CreditBalance(ctx, user, amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return l.journal(ctx, user, model.JournalDeposit, amount, nil, nil)
}

// Withdraw debits amount from the user's balance and journals it. Debit
// happens first; the caller releases the funds externally only after this
// returns nil (debit-then-release, never the reverse, so a concurrent
// double withdraw cannot overdraw).
func (l *Ledger) Withdraw(ctx context.Context, user string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return model.ErrInvalidAmount
	}
	if err := l.store.DebitBalance(ctx, user, amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return l.journal(ctx, user, model.JournalWithdraw, amount, nil, nil)
}

// Debit removes amount from the user's balance without journaling; the
// settlement engine records the stake once the position id exists, and
// compensates with Credit when a later step of the same operation fails.
func (l *Ledger) Debit(ctx context.Context, user string, amount *uint256.Int) error {
	return l.store.DebitBalance(ctx, user, amount)
}

// Credit adds amount to the user's balance without journaling.
func (l *Ledger) Credit(ctx context.Context, user string, amount *uint256.Int) error {
	return l.store.CreditBalance(ctx, user, amount)
}

// Record journals a stake or payout tied to a position.
func (l *Ledger) Record(ctx context.Context, user, kind string, amount *uint256.Int, marketID, positionID uint64) error {
	return l.journal(ctx, user, kind, amount, &marketID, &positionID)
}

// Balance returns the user's current escrow balance.
func (l *Ledger) Balance(ctx context.Context, user string) (*uint256.Int, error) {
	return l.store.GetBalance(ctx, user)
}

// Journal returns the user's balance-mutation history in time order.
func (l *Ledger) Journal(ctx context.Context, user string) ([]model.JournalEntry, error) {
	return l.store.JournalOf(ctx, user)
}

func (l *Ledger) journal(ctx context.Context, user, kind string, amount *uint256.Int, marketID, positionID *uint64) error {
	return l.store.InsertJournalEntry(ctx, &model.JournalEntry{
		ID:         uuid.New(),
		User:       user,
		Kind:       kind,
		Amount:     amount.Clone(),
		MarketID:   marketID,
		PositionID: positionID,
		Timestamp:  time.Now().UTC(),
	})
}
