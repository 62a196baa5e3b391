package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor. It exists for the claim path:
// moving a pool entry to assigned and inserting its payment session must
// commit together, and a rollback (for instance after losing a duplicate
// session race) has to release the freshly claimed wallet.
type Transactor struct {
	pool Pool
}

// NewTransactor wraps the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens the transaction the wallet claim and session insert run in.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}
