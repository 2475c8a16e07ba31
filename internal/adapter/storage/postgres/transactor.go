package postgres

import (
	"context"

	"ledger-mirror/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor over a Pool.
type Transactor struct {
	pool Pool
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

var _ ports.DBTransactor = (*Transactor)(nil)

func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}
