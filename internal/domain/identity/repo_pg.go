package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Next(ctx context.Context, source string) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `
		UPDATE identifier_source
		SET next_value = next_value + 1
		WHERE name = $1
		RETURNING next_value - 1`,
		source,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("identifier source %q is not set up", source)
	}
	return value, err
}

func (r *repoPG) Setup(ctx context.Context, source string, startFrom int64) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO identifier_source (name, next_value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`,
		source, startFrom,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identifier source %q already exists", source)
	}
	return nil
}
