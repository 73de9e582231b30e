package store

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	balances  map[string]*uint256.Int
	markets   map[uint64]*model.Market
	positions map[uint64]*model.Position
	byTrader  map[string][]uint64
	journal   []model.JournalEntry

	nextMarketID   uint64
	nextPositionID uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]*uint256.Int),
		markets:   make(map[uint64]*model.Market),
		positions: make(map[uint64]*model.Position),
		byTrader:  make(map[string][]uint64),
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, user string) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[user]
	if !ok {
		return uint256.NewInt(0), nil
	}
	return b.Clone(), nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, user string, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[user]
	if !ok {
		b = uint256.NewInt(0)
		s.balances[user] = b
	}
	b.Add(b, amount)
	return nil
}

func (s *MemoryStore) DebitBalance(_ context.Context, user string, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[user]
	if !ok || b.Lt(amount) {
		return model.ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextMarketID
	s.nextMarketID++

	// Store a copy to avoid external mutation.
	cp := cloneMarket(m)
	s.markets[m.ID] = cp
	return m.ID, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, model.ErrMarketNotFound
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for id := uint64(0); id < s.nextMarketID; id++ {
		if m, ok := s.markets[id]; ok {
			markets = append(markets, *cloneMarket(m))
		}
	}
	return markets, nil
}

func (s *MemoryStore) MarketCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextMarketID, nil
}

func (s *MemoryStore) UpdateMarketPools(_ context.Context, id uint64, yesMargin, noMargin, yesEff, noEff *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return model.ErrMarketNotFound
	}
	m.TotalYesMargin = yesMargin.Clone()
	m.TotalNoMargin = noMargin.Clone()
	m.TotalYesEffective = yesEff.Clone()
	m.TotalNoEffective = noEff.Clone()
	return nil
}

func (s *MemoryStore) SetMarketLocked(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return model.ErrMarketNotFound
	}
	m.Active = false
	return nil
}

func (s *MemoryStore) SetMarketResolved(_ context.Context, id uint64, outcomeYes bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return model.ErrMarketNotFound
	}
	m.Resolved = true
	m.OutcomeYes = outcomeYes
	m.Active = false
	return nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextPositionID
	s.nextPositionID++

	cp := clonePosition(p)
	s.positions[p.ID] = cp
	s.byTrader[p.Trader] = append(s.byTrader[p.Trader], p.ID)
	return p.ID, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id uint64) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, model.ErrPositionNotFound
	}
	return clonePosition(p), nil
}

func (s *MemoryStore) PositionIDsOf(_ context.Context, trader string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTrader[trader]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) HasPositionInMarket(_ context.Context, trader string, marketID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byTrader[trader] {
		if p, ok := s.positions[id]; ok && p.MarketID == marketID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) MarkPositionClaimed(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return model.ErrPositionNotFound
	}
	p.Claimed = true
	return nil
}

func (s *MemoryStore) InsertJournalEntry(_ context.Context, e *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, *cloneJournalEntry(e))
	return nil
}

func (s *MemoryStore) JournalOf(_ context.Context, user string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.JournalEntry
	for _, e := range s.journal {
		if e.User == user {
			out = append(out, *cloneJournalEntry(&e))
		}
	}
	return out, nil
}

// Deep copies so callers can never alias the store's uint256 values.

func cloneMarket(m *model.Market) *model.Market {
	cp := *m
	cp.TotalYesMargin = m.TotalYesMargin.Clone()
	cp.TotalNoMargin = m.TotalNoMargin.Clone()
	cp.TotalYesEffective = m.TotalYesEffective.Clone()
	cp.TotalNoEffective = m.TotalNoEffective.Clone()
	return &cp
}

func clonePosition(p *model.Position) *model.Position {
	cp := *p
	cp.MarginWei = p.MarginWei.Clone()
	return &cp
}

func cloneJournalEntry(e *model.JournalEntry) *model.JournalEntry {
	cp := *e
	cp.Amount = e.Amount.Clone()
	return &cp
}
