package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddspool/settle-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Wei amounts are stored as NUMERIC for exact precision and travel as
// decimal strings. Market and position ids come from identity columns
// declared START WITH 0.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetBalance(ctx context.Context, user string) (*uint256.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE user_addr = $1`, user).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", user, err)
	}
	return parseWei(amount)
}

func (s *PostgresStore) CreditBalance(ctx context.Context, user string, amount *uint256.Int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_addr, amount) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_addr) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		user, amount.Dec())
	return err
}

func (s *PostgresStore) DebitBalance(ctx context.Context, user string, amount *uint256.Int) error {
	// The balance check and subtraction are one statement so concurrent
	// debits can never drive the balance negative.
	tag, err := s.pool.Exec(ctx,
		`UPDATE balances SET amount = amount - $2::NUMERIC
		 WHERE user_addr = $1 AND amount >= $2::NUMERIC`,
		user, amount.Dec())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInsufficientBalance
	}
	return nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) (uint64, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO markets
		   (question, deadline, resolved, outcome_yes,
		    total_yes_margin, total_no_margin, total_yes_effective, total_no_effective,
		    active, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
		 RETURNING id`,
		m.Question, m.Deadline, m.Resolved, m.OutcomeYes,
		m.TotalYesMargin.Dec(), m.TotalNoMargin.Dec(),
		m.TotalYesEffective.Dec(), m.TotalNoEffective.Dec(),
		m.Active, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return 0, fmt.Errorf("create market: %w", err)
	}
	return m.ID, nil
}

const marketColumns = `id, question, deadline, resolved, outcome_yes,
	total_yes_margin::TEXT, total_no_margin::TEXT,
	total_yes_effective::TEXT, total_no_effective::TEXT,
	active, created_at`

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) MarketCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n)
	return n, err
}

func (s *PostgresStore) UpdateMarketPools(ctx context.Context, id uint64, yesMargin, noMargin, yesEff, noEff *uint256.Int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET total_yes_margin = $2::NUMERIC, total_no_margin = $3::NUMERIC,
		     total_yes_effective = $4::NUMERIC, total_no_effective = $5::NUMERIC
		 WHERE id = $1`,
		id, yesMargin.Dec(), noMargin.Dec(), yesEff.Dec(), noEff.Dec())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMarketNotFound
	}
	return nil
}

func (s *PostgresStore) SetMarketLocked(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMarketNotFound
	}
	return nil
}

func (s *PostgresStore) SetMarketResolved(ctx context.Context, id uint64, outcomeYes bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET resolved = TRUE, outcome_yes = $2, active = FALSE WHERE id = $1`,
		id, outcomeYes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMarketNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) (uint64, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO positions (trader, market_id, side_yes, margin_wei, leverage, claimed, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)
		 RETURNING id`,
		p.Trader, p.MarketID, p.SideYes, p.MarginWei.Dec(), int16(p.Leverage), p.Claimed, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return 0, fmt.Errorf("create position: %w", err)
	}
	return p.ID, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	var p model.Position
	var margin string
	var leverage int16

	err := s.pool.QueryRow(ctx,
		`SELECT id, trader, market_id, side_yes, margin_wei::TEXT, leverage, claimed, created_at
		 FROM positions WHERE id = $1`, id).
		Scan(&p.ID, &p.Trader, &p.MarketID, &p.SideYes, &margin, &leverage, &p.Claimed, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", id, err)
	}

	p.Leverage = uint8(leverage)
	if p.MarginWei, err = parseWei(margin); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) PositionIDsOf(ctx context.Context, trader string) ([]uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM positions WHERE trader = $1 ORDER BY id`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) HasPositionInMarket(ctx context.Context, trader string, marketID uint64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM positions WHERE trader = $1 AND market_id = $2)`,
		trader, marketID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) MarkPositionClaimed(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET claimed = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPositionNotFound
	}
	return nil
}

func (s *PostgresStore) InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal_entries (id, user_addr, kind, amount, market_id, position_id, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		e.ID.String(), e.User, e.Kind, e.Amount.Dec(), e.MarketID, e.PositionID, e.Timestamp)
	return err
}

func (s *PostgresStore) JournalOf(ctx context.Context, user string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_addr, kind, amount::TEXT, market_id, position_id, timestamp
		 FROM journal_entries WHERE user_addr = $1 ORDER BY timestamp`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var idS, amountS string
		if err := rows.Scan(&idS, &e.User, &e.Kind, &amountS, &e.MarketID, &e.PositionID, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(idS); err != nil {
			return nil, err
		}
		if e.Amount, err = parseWei(amountS); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanMarket reads one market row; works for both QueryRow and Query rows.
func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var yesMargin, noMargin, yesEff, noEff string

	err := row.Scan(&m.ID, &m.Question, &m.Deadline, &m.Resolved, &m.OutcomeYes,
		&yesMargin, &noMargin, &yesEff, &noEff,
		&m.Active, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if m.TotalYesMargin, err = parseWei(yesMargin); err != nil {
		return nil, err
	}
	if m.TotalNoMargin, err = parseWei(noMargin); err != nil {
		return nil, err
	}
	if m.TotalYesEffective, err = parseWei(yesEff); err != nil {
		return nil, err
	}
	if m.TotalNoEffective, err = parseWei(noEff); err != nil {
		return nil, err
	}
	return &m, nil
}

func parseWei(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("corrupt NUMERIC amount %q: %w", s, err)
	}
	return z, nil
}
