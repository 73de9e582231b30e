// Package engine wires the ledger, market registry, and position book into
// the settlement service, and exposes it over HTTP and WebSocket.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/oddspool/settle-engine/internal/auth"
	"github.com/oddspool/settle-engine/internal/book"
	"github.com/oddspool/settle-engine/internal/ledger"
	"github.com/oddspool/settle-engine/internal/metrics"
	"github.com/oddspool/settle-engine/internal/model"
	"github.com/oddspool/settle-engine/internal/registry"
	"github.com/oddspool/settle-engine/internal/store"
	"github.com/oddspool/settle-engine/internal/weimath"
)

// Service is the settlement engine. A single mutex serializes every
// mutating operation, so check-then-act sequences (balance checks, the
// one-position gate, pool updates) are atomic with respect to each other.
// Reads take snapshots without the lock.
type Service struct {
	mu sync.Mutex

	store    store.Store
	ledger   *ledger.Ledger
	registry *registry.Registry
	book     *book.Book
	hub      *WSHub
	log      *slog.Logger

	// now is swappable for deadline tests.
	now func() time.Time
}

// NewService assembles the engine from its components. hub may be nil to
// disable WebSocket notifications.
func NewService(st store.Store, gate auth.Gate, policy book.Policy, leverageSet []uint8, hub *WSHub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    st,
		ledger:   ledger.New(st),
		registry: registry.New(st, gate),
		book:     book.New(st, policy, leverageSet),
		hub:      hub,
		log:      log,
		now:      time.Now,
	}
}

// SetNow overrides the engine clock, including the registry's. Test hook.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
	s.registry.SetNow(now)
}

// --- Escrow ---

// Deposit credits amount wei to the user's bankroll.
func (s *Service) Deposit(ctx context.Context, user string, amount *uint256.Int) error {
	user = auth.Normalize(user)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Deposit(ctx, user, amount); err != nil {
		return err
	}
	metrics.DepositsTotal.Inc()
	s.log.Info("deposit", "user", user, "amount", amount.Dec())
	return nil
}

// Withdraw debits amount wei from the user's bankroll. The debit lands
// before any external release of funds.
func (s *Service) Withdraw(ctx context.Context, user string, amount *uint256.Int) error {
	user = auth.Normalize(user)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Withdraw(ctx, user, amount); err != nil {
		return err
	}
	metrics.WithdrawalsTotal.Inc()
	s.log.Info("withdraw", "user", user, "amount", amount.Dec())
	return nil
}

// Balance returns the user's current bankroll.
func (s *Service) Balance(ctx context.Context, user string) (*uint256.Int, error) {
	return s.ledger.Balance(ctx, auth.Normalize(user))
}

// Journal returns the user's balance-mutation history.
func (s *Service) Journal(ctx context.Context, user string) ([]model.JournalEntry, error) {
	return s.ledger.Journal(ctx, auth.Normalize(user))
}

// --- Markets ---

// CreateMarket opens a new round. Admin only.
func (s *Service) CreateMarket(ctx context.Context, caller, question string, deadline int64) (uint64, error) {
	caller = auth.Normalize(caller)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.registry.Create(ctx, caller, question, deadline)
	if err != nil {
		return 0, err
	}
	metrics.ActiveMarkets.Inc()
	s.log.Info("market created", "market_id", id, "question", question, "deadline", deadline)
	s.broadcastMarket(ctx, EventMarketCreated, id)
	return id, nil
}

// LockMarket makes a past-deadline market explicitly inactive.
func (s *Service) LockMarket(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	wasActive := m.Active
	if err := s.registry.Lock(ctx, id); err != nil {
		return err
	}
	if wasActive {
		metrics.ActiveMarkets.Dec()
		s.log.Info("market locked", "market_id", id)
	}
	return nil
}

// ResolveMarket fixes the outcome exactly once. Admin only.
func (s *Service) ResolveMarket(ctx context.Context, caller string, id uint64, outcomeYes bool) error {
	caller = auth.Normalize(caller)
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	wasActive := m.Active
	if err := s.registry.Resolve(ctx, caller, id, outcomeYes); err != nil {
		return err
	}
	if wasActive {
		metrics.ActiveMarkets.Dec()
	}
	s.log.Info("market resolved", "market_id", id, "outcome_yes", outcomeYes)
	s.broadcastMarket(ctx, EventMarketResolved, id)
	return nil
}

// Market returns a snapshot of one market.
func (s *Service) Market(ctx context.Context, id uint64) (*model.Market, error) {
	return s.registry.Get(ctx, id)
}

// Markets returns all markets ordered by id.
func (s *Service) Markets(ctx context.Context) ([]model.Market, error) {
	return s.registry.List(ctx)
}

// MarketCount returns the number of markets ever created.
func (s *Service) MarketCount(ctx context.Context) (uint64, error) {
	return s.registry.Count(ctx)
}

// Odds holds the implied probability of each outcome as percentages,
// derived from the effective (leverage-weighted) pools.
type Odds struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// MarketOdds returns the implied odds for a market. An empty market
// reports 50/50.
func (s *Service) MarketOdds(ctx context.Context, id uint64) (*Odds, error) {
	m, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return oddsOf(m), nil
}

func oddsOf(m *model.Market) *Odds {
	yes := decimal.NewFromBigInt(m.TotalYesEffective.ToBig(), 0)
	no := decimal.NewFromBigInt(m.TotalNoEffective.ToBig(), 0)
	total := yes.Add(no)
	if total.IsZero() {
		fifty := decimal.NewFromInt(50)
		return &Odds{Yes: fifty, No: fifty}
	}
	hundred := decimal.NewFromInt(100)
	yesPct := yes.Mul(hundred).DivRound(total, 2)
	return &Odds{Yes: yesPct, No: hundred.Sub(yesPct)}
}

// --- Positions ---

// OpenPosition stakes margin wei on one side of a market at the given
// leverage. The margin is debited from the trader's bankroll and held in
// escrow until the market resolves. Returns the new position id.
//
// Order of operations: every validation and all pool arithmetic run
// against a snapshot before the first mutation. Then debit, commit the
// new pool totals, and create the position last, so a position record
// only ever exists once its stake is counted into the pools. A failure
// on any mutating step unwinds the earlier ones in reverse order.
func (s *Service) OpenPosition(ctx context.Context, trader string, marketID uint64, sideYes bool, leverage uint8, margin *uint256.Int) (uint64, error) {
	trader = auth.Normalize(trader)
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.registry.Get(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if m.Resolved || !m.Active || s.now().Unix() >= m.Deadline {
		return 0, fmt.Errorf("open position: market %d: %w", marketID, model.ErrMarketNotActive)
	}
	if err := s.book.ValidateOpen(ctx, trader, marketID, leverage, margin); err != nil {
		return 0, err
	}

	effective, err := weimath.MulUint64(margin, uint64(leverage))
	if err != nil {
		return 0, err
	}
	yesMargin, noMargin := m.TotalYesMargin, m.TotalNoMargin
	yesEff, noEff := m.TotalYesEffective, m.TotalNoEffective
	if sideYes {
		if yesMargin, err = weimath.Add(yesMargin, margin); err != nil {
			return 0, err
		}
		if yesEff, err = weimath.Add(yesEff, effective); err != nil {
			return 0, err
		}
	} else {
		if noMargin, err = weimath.Add(noMargin, margin); err != nil {
			return 0, err
		}
		if noEff, err = weimath.Add(noEff, effective); err != nil {
			return 0, err
		}
	}

	if err := s.ledger.Debit(ctx, trader, margin); err != nil {
		return 0, fmt.Errorf("open position: %w", err)
	}

	if err := s.store.UpdateMarketPools(ctx, marketID, yesMargin, noMargin, yesEff, noEff); err != nil {
		s.refund(ctx, trader, margin, "pool update failed")
		return 0, fmt.Errorf("open position: %w", err)
	}

	posID, err := s.book.Open(ctx, trader, marketID, sideYes, leverage, margin)
	if err != nil {
		// Unwind: restore the pool snapshot, then the margin.
		if perr := s.store.UpdateMarketPools(ctx, marketID,
			m.TotalYesMargin, m.TotalNoMargin, m.TotalYesEffective, m.TotalNoEffective); perr != nil {
			s.log.Error("pool rollback failed", "market_id", marketID, "error", perr)
		}
		s.refund(ctx, trader, margin, "position create failed")
		return 0, err
	}

	if err := s.ledger.Record(ctx, trader, model.JournalStake, margin, marketID, posID); err != nil {
		s.log.Error("stake journal write failed", "position_id", posID, "error", err)
	}

	metrics.PositionsOpenedTotal.WithLabelValues(sideLabel(sideYes)).Inc()
	s.log.Info("position opened",
		"position_id", posID, "market_id", marketID, "trader", trader,
		"side_yes", sideYes, "leverage", leverage, "margin", margin.Dec())
	s.broadcastMarket(ctx, EventPositionOpened, marketID)
	return posID, nil
}

// Claim settles a position on a resolved market exactly once and returns
// the amount credited. A winning position receives its margin back plus
// floor(effective · losingPoolMargin / winningPoolEffective); a losing
// position is settled at zero, so the maximum loss is always the margin.
func (s *Service) Claim(ctx context.Context, caller string, positionID uint64) (*uint256.Int, error) {
	caller = auth.Normalize(caller)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.book.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.Trader != caller {
		return nil, fmt.Errorf("claim position %d: %w", positionID, model.ErrNotOwner)
	}
	m, err := s.registry.Get(ctx, p.MarketID)
	if err != nil {
		return nil, err
	}
	if !m.Resolved {
		return nil, fmt.Errorf("claim position %d: %w", positionID, model.ErrMarketNotResolved)
	}
	if p.Claimed {
		return nil, fmt.Errorf("claim position %d: %w", positionID, model.ErrAlreadyClaimed)
	}

	if p.SideYes != m.OutcomeYes {
		// Lost: the margin stays in the pool for the winners. The
		// position is still burned so the journal is complete.
		if err := s.book.MarkClaimed(ctx, positionID); err != nil {
			return nil, err
		}
		if err := s.ledger.Record(ctx, caller, model.JournalPayout, uint256.NewInt(0), p.MarketID, positionID); err != nil {
			s.log.Error("payout journal write failed", "position_id", positionID, "error", err)
		}
		metrics.ClaimsTotal.WithLabelValues("lost").Inc()
		s.log.Info("claim settled", "position_id", positionID, "trader", caller, "payout", "0")
		return uint256.NewInt(0), nil
	}

	payout, err := s.payout(p, m)
	if err != nil {
		// Fail closed: the position stays claimable so an operator can
		// intervene rather than a trader losing a valid payout.
		return nil, err
	}

	// Credit before flipping the claimed flag: the engine mutex keeps
	// the window invisible, and a failed flag write takes the credit
	// back, so the position stays claimable instead of burning the
	// payout.
	if err := s.ledger.Credit(ctx, caller, payout); err != nil {
		return nil, fmt.Errorf("claim position %d: %w", positionID, err)
	}
	if err := s.book.MarkClaimed(ctx, positionID); err != nil {
		if derr := s.ledger.Debit(ctx, caller, payout); derr != nil {
			s.log.Error("payout rollback failed", "position_id", positionID, "error", derr)
		}
		return nil, err
	}
	if err := s.ledger.Record(ctx, caller, model.JournalPayout, payout, p.MarketID, positionID); err != nil {
		s.log.Error("payout journal write failed", "position_id", positionID, "error", err)
	}

	metrics.ClaimsTotal.WithLabelValues("won").Inc()
	s.log.Info("claim settled", "position_id", positionID, "trader", caller, "payout", payout.Dec())
	return payout, nil
}

// payout computes margin + floor(effective · losingPool / winningEffective)
// for a winning position. An empty winning pool cannot happen when a winner
// exists, but the divisor is clamped to 1 anyway so the division is total.
func (s *Service) payout(p *model.Position, m *model.Market) (*uint256.Int, error) {
	effective, err := weimath.MulUint64(p.MarginWei, uint64(p.Leverage))
	if err != nil {
		return nil, err
	}

	var losingPool, winningEff *uint256.Int
	if m.OutcomeYes {
		losingPool, winningEff = m.TotalNoMargin, m.TotalYesEffective
	} else {
		losingPool, winningEff = m.TotalYesMargin, m.TotalNoEffective
	}
	if winningEff.IsZero() {
		winningEff = uint256.NewInt(1)
	}

	bonus, err := weimath.MulDiv(effective, losingPool, winningEff)
	if err != nil {
		return nil, err
	}
	return weimath.Add(p.MarginWei, bonus)
}

// Position returns a snapshot of one position.
func (s *Service) Position(ctx context.Context, id uint64) (*model.Position, error) {
	return s.book.Get(ctx, id)
}

// PositionsOf returns the trader's positions in open order.
func (s *Service) PositionsOf(ctx context.Context, trader string) ([]model.Position, error) {
	ids, err := s.book.PositionsOf(ctx, auth.Normalize(trader))
	if err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		p, err := s.book.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// refund is the compensating credit for a failed open. A refund that
// itself fails leaves the ledger short and is only logged; there is no
// deeper recovery available at this layer.
func (s *Service) refund(ctx context.Context, trader string, margin *uint256.Int, reason string) {
	if err := s.ledger.Credit(ctx, trader, margin); err != nil {
		s.log.Error("refund failed", "trader", trader, "amount", margin.Dec(), "reason", reason, "error", err)
	}
}

func (s *Service) broadcastMarket(ctx context.Context, event string, marketID uint64) {
	if s.hub == nil {
		return
	}
	m, err := s.registry.Get(ctx, marketID)
	if err != nil {
		s.log.Error("broadcast snapshot failed", "market_id", marketID, "error", err)
		return
	}
	s.hub.Broadcast(WSMessage{
		Event:             event,
		MarketID:          m.ID,
		Question:          m.Question,
		Deadline:          m.Deadline,
		Resolved:          m.Resolved,
		OutcomeYes:        m.OutcomeYes,
		Active:            m.Active,
		TotalYesMargin:    m.TotalYesMargin.Dec(),
		TotalNoMargin:     m.TotalNoMargin.Dec(),
		TotalYesEffective: m.TotalYesEffective.Dec(),
		TotalNoEffective:  m.TotalNoEffective.Dec(),
		Odds:              oddsOf(m),
	})
}

func sideLabel(sideYes bool) string {
	if sideYes {
		return "yes"
	}
	return "no"
}
