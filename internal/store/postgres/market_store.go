package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `address, asset, strike_price::text, bidding_end, maturity, expiry, phase, result, created_at, updated_at`

// Upsert inserts a market or refreshes its on-chain fields.
func (s *MarketStore) Upsert(ctx context.Context, m domain.OptionsMarket) error {
	const query = `
		INSERT INTO options_markets (
			address, asset, strike_price, bidding_end, maturity, expiry,
			phase, result, created_at, updated_at
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, COALESCE($9, NOW()), NOW())
		ON CONFLICT (address) DO UPDATE SET
			asset        = EXCLUDED.asset,
			strike_price = EXCLUDED.strike_price,
			bidding_end  = EXCLUDED.bidding_end,
			maturity     = EXCLUDED.maturity,
			expiry       = EXCLUDED.expiry,
			phase        = EXCLUDED.phase,
			result       = EXCLUDED.result,
			updated_at   = NOW()`

	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	_, err := s.pool.Exec(ctx, query,
		m.Address, m.Asset, m.StrikePrice.String(),
		m.BiddingEnd, m.Maturity, m.Expiry,
		string(m.Phase), string(m.Result), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Address, err)
	}
	return nil
}

// GetByAddress returns the market at address or domain.ErrNotFound.
func (s *MarketStore) GetByAddress(ctx context.Context, address string) (domain.OptionsMarket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM options_markets WHERE address = $1`, address)
	m, err := scanMarket(row)
	if err != nil {
		return domain.OptionsMarket{}, notFound(err, "get market "+address)
	}
	return m, nil
}

// ListByPhase returns markets in phase, most recently matured first.
func (s *MarketStore) ListByPhase(ctx context.Context, phase domain.Phase, opts domain.ListOpts) ([]domain.OptionsMarket, error) {
	query, args := listQuery(
		`SELECT `+marketColumns+` FROM options_markets WHERE phase = $1`,
		"maturity", []any{string(phase)}, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by phase: %w", err)
	}
	defer rows.Close()

	var markets []domain.OptionsMarket
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.OptionsMarket, error) {
	var m domain.OptionsMarket
	var strike, phase, result string
	if err := row.Scan(
		&m.Address, &m.Asset, &strike,
		&m.BiddingEnd, &m.Maturity, &m.Expiry,
		&phase, &result, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return m, err
	}
	var err error
	if m.StrikePrice, err = parseNumeric(strike); err != nil {
		return m, fmt.Errorf("strike_price %q: %w", strike, err)
	}
	m.Phase = domain.Phase(phase)
	m.Result = domain.Side(result)
	return m, nil
}
