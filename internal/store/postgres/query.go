package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// listQuery appends time filtering, ordering and pagination to base. base
// must already contain a WHERE clause and use placeholders $1..$len(args).
func listQuery(base, timeColumn string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := len(args) + 1

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= $%d", timeColumn, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= $%d", timeColumn, next)
		args = append(args, *opts.Until)
		next++
	}

	fmt.Fprintf(&b, " ORDER BY %s DESC", timeColumn)

	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s: %w", what, err)
}

// NUMERIC columns are read as text and parsed so precision survives.
func parseNumeric(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
