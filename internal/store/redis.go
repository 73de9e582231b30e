package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/oddspool/settle-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets and positions. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Balances and the journal are never cached — stale escrow
// numbers are worse than an extra query.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Passthrough: balances and journal ---

func (s *CachedStore) GetBalance(ctx context.Context, user string) (*uint256.Int, error) {
	return s.primary.GetBalance(ctx, user)
}

func (s *CachedStore) CreditBalance(ctx context.Context, user string, amount *uint256.Int) error {
	return s.primary.CreditBalance(ctx, user, amount)
}

func (s *CachedStore) DebitBalance(ctx context.Context, user string, amount *uint256.Int) error {
	return s.primary.DebitBalance(ctx, user, amount)
}

func (s *CachedStore) InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error {
	return s.primary.InsertJournalEntry(ctx, e)
}

func (s *CachedStore) JournalOf(ctx context.Context, user string) ([]model.JournalEntry, error) {
	return s.primary.JournalOf(ctx, user)
}

// --- Markets: write-through with invalidation ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) (uint64, error) {
	id, err := s.primary.CreateMarket(ctx, m)
	if err != nil {
		return 0, err
	}
	s.cacheMarket(ctx, m)
	return id, nil
}

func (s *CachedStore) UpdateMarketPools(ctx context.Context, id uint64, yesMargin, noMargin, yesEff, noEff *uint256.Int) error {
	if err := s.primary.UpdateMarketPools(ctx, id, yesMargin, noMargin, yesEff, noEff); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetMarketLocked(ctx context.Context, id uint64) error {
	if err := s.primary.SetMarketLocked(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetMarketResolved(ctx context.Context, id uint64, outcomeYes bool) error {
	if err := s.primary.SetMarketResolved(ctx, id, outcomeYes); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) MarketCount(ctx context.Context) (uint64, error) {
	return s.primary.MarketCount(ctx)
}

// --- Positions ---

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) (uint64, error) {
	id, err := s.primary.CreatePosition(ctx, p)
	if err != nil {
		return 0, err
	}
	// Invalidate the trader's index; the position itself is cached on read.
	s.rdb.Del(ctx, traderKey(p.Trader))
	return id, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(id), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) PositionIDsOf(ctx context.Context, trader string) ([]uint64, error) {
	data, err := s.rdb.Get(ctx, traderKey(trader)).Bytes()
	if err == nil {
		var ids []uint64
		if json.Unmarshal(data, &ids) == nil {
			return ids, nil
		}
	}

	ids, err := s.primary.PositionIDsOf(ctx, trader)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ids); err == nil {
		s.rdb.Set(ctx, traderKey(trader), data, s.ttl)
	}
	return ids, nil
}

func (s *CachedStore) HasPositionInMarket(ctx context.Context, trader string, marketID uint64) (bool, error) {
	return s.primary.HasPositionInMarket(ctx, trader, marketID)
}

func (s *CachedStore) MarkPositionClaimed(ctx context.Context, id uint64) error {
	if err := s.primary.MarkPositionClaimed(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(id))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id uint64) string { return fmt.Sprintf("market:%d", id) }

func positionKey(id uint64) string { return fmt.Sprintf("position:%d", id) }

func traderKey(trader string) string { return fmt.Sprintf("positions:%s", trader) }
