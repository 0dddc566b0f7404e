package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// ExerciseStore implements domain.ExerciseStore using PostgreSQL.
type ExerciseStore struct {
	pool *pgxpool.Pool
}

// NewExerciseStore creates an ExerciseStore backed by pool.
func NewExerciseStore(pool *pgxpool.Pool) *ExerciseStore {
	return &ExerciseStore{pool: pool}
}

const exerciseColumns = `id, market, account, gas_limit, status, tx_hash, error, started_at, finished_at`

// Create records a new attempt.
func (s *ExerciseStore) Create(ctx context.Context, a domain.ExerciseAttempt) error {
	const query = `
		INSERT INTO exercise_attempts (id, market, account, gas_limit, status, tx_hash, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Market, a.Account, int64(a.GasLimit),
		string(a.Status), a.TxHash, a.Error, a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create exercise attempt %s: %w", a.ID, err)
	}
	return nil
}

// Finish records the outcome of an attempt.
func (s *ExerciseStore) Finish(ctx context.Context, id string, status domain.ExerciseStatus, txHash, errMsg string, at time.Time) error {
	const query = `
		UPDATE exercise_attempts SET
			status      = $2,
			tx_hash     = $3,
			error       = $4,
			finished_at = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), txHash, errMsg, at)
	if err != nil {
		return fmt.Errorf("postgres: finish exercise attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish exercise attempt %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByAccount returns an account's attempts, newest first.
func (s *ExerciseStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error) {
	return s.list(ctx, "account", account, opts)
}

// ListByMarket returns a market's attempts, newest first.
func (s *ExerciseStore) ListByMarket(ctx context.Context, market string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error) {
	return s.list(ctx, "market", market, opts)
}

func (s *ExerciseStore) list(ctx context.Context, column, value string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error) {
	query, args := listQuery(
		`SELECT `+exerciseColumns+` FROM exercise_attempts WHERE `+column+` = $1`,
		"started_at", []any{value}, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exercise attempts by %s: %w", column, err)
	}
	defer rows.Close()

	var out []domain.ExerciseAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan exercise attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list exercise attempts rows: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (domain.ExerciseAttempt, error) {
	var a domain.ExerciseAttempt
	var gas int64
	var status string
	if err := row.Scan(
		&a.ID, &a.Market, &a.Account, &gas, &status,
		&a.TxHash, &a.Error, &a.StartedAt, &a.FinishedAt,
	); err != nil {
		return a, err
	}
	a.GasLimit = uint64(gas)
	a.Status = domain.ExerciseStatus(status)
	return a, nil
}
