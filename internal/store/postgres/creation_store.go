package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// CreationStore implements domain.CreationStore using PostgreSQL.
type CreationStore struct {
	pool *pgxpool.Pool
}

// NewCreationStore creates a CreationStore backed by pool.
func NewCreationStore(pool *pgxpool.Pool) *CreationStore {
	return &CreationStore{pool: pool}
}

const creationColumns = `id, asset, strike_price::text, bidding_end, maturity,
	long_percent, short_percent, long_bid::text, short_bid::text, initial_funding::text,
	creator, status, tx_hash, market_address, error, created_at, updated_at`

// Create inserts a new creation request.
func (s *CreationStore) Create(ctx context.Context, r domain.CreationRequest) error {
	const query = `
		INSERT INTO creation_requests (
			id, asset, strike_price, bidding_end, maturity,
			long_percent, short_percent, long_bid, short_bid, initial_funding,
			creator, status, tx_hash, error, created_at, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4, $5,
			$6, $7, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Asset, r.StrikePrice.String(), r.BiddingEnd, r.Maturity,
		r.LongPercent, r.ShortPercent, r.LongBid.String(), r.ShortBid.String(), r.InitialFunding.String(),
		r.Creator, string(r.Status), r.TxHash, r.Error, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create creation request %s: %w", r.ID, err)
	}
	return nil
}

// UpdateStatus moves a request to status, recording the transaction hash
// and error message when non-empty.
func (s *CreationStore) UpdateStatus(ctx context.Context, id string, status domain.CreationStatus, txHash, errMsg string) error {
	const query = `
		UPDATE creation_requests SET
			status     = $2,
			tx_hash    = COALESCE(NULLIF($3, ''), tx_hash),
			error      = $4,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), txHash, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: update creation request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update creation request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Confirm marks a request confirmed with the deployed market address.
func (s *CreationStore) Confirm(ctx context.Context, id, txHash, marketAddress string) error {
	const query = `
		UPDATE creation_requests SET
			status         = $2,
			tx_hash        = $3,
			market_address = $4,
			error          = '',
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(domain.CreationStatusConfirmed), txHash, marketAddress)
	if err != nil {
		return fmt.Errorf("postgres: confirm creation request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: confirm creation request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the request or domain.ErrNotFound.
func (s *CreationStore) GetByID(ctx context.Context, id string) (domain.CreationRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+creationColumns+` FROM creation_requests WHERE id = $1`, id)
	r, err := scanCreation(row)
	if err != nil {
		return domain.CreationRequest{}, notFound(err, "get creation request "+id)
	}
	return r, nil
}

// ListRecent returns requests newest first.
func (s *CreationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.CreationRequest, error) {
	query, args := listQuery(
		`SELECT `+creationColumns+` FROM creation_requests WHERE 1=1`,
		"created_at", nil, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list creation requests: %w", err)
	}
	defer rows.Close()

	var out []domain.CreationRequest
	for rows.Next() {
		r, err := scanCreation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan creation request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list creation requests rows: %w", err)
	}
	return out, nil
}

func scanCreation(row pgx.Row) (domain.CreationRequest, error) {
	var r domain.CreationRequest
	var strike, longBid, shortBid, funding, status string
	if err := row.Scan(
		&r.ID, &r.Asset, &strike, &r.BiddingEnd, &r.Maturity,
		&r.LongPercent, &r.ShortPercent, &longBid, &shortBid, &funding,
		&r.Creator, &status, &r.TxHash, &r.MarketAddress, &r.Error, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return r, err
	}
	var err error
	if r.StrikePrice, err = parseNumeric(strike); err != nil {
		return r, fmt.Errorf("strike_price %q: %w", strike, err)
	}
	if r.LongBid, err = parseNumeric(longBid); err != nil {
		return r, fmt.Errorf("long_bid %q: %w", longBid, err)
	}
	if r.ShortBid, err = parseNumeric(shortBid); err != nil {
		return r, fmt.Errorf("short_bid %q: %w", shortBid, err)
	}
	if r.InitialFunding, err = parseNumeric(funding); err != nil {
		return r, fmt.Errorf("initial_funding %q: %w", funding, err)
	}
	r.Status = domain.CreationStatus(status)
	return r, nil
}
