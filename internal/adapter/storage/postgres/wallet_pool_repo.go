package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-pool/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletPoolRepo implements ports.WalletPoolRepository.
type WalletPoolRepo struct {
	pool Pool
}

// NewWalletPoolRepo creates a new WalletPoolRepo.
func NewWalletPoolRepo(pool Pool) *WalletPoolRepo {
	return &WalletPoolRepo{pool: pool}
}

const walletColumns = `id, address, encrypted_key, status, assigned_session_id, assigned_at,
	baseline_balance, last_known_balance, sweep_tx_hash, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.WalletPoolEntry, error) {
	w := &domain.WalletPoolEntry{}
	err := row.Scan(
		&w.ID, &w.Address, &w.EncryptedKey, &w.Status, &w.AssignedSessionID,
		&w.AssignedAt, &w.BaselineBalance, &w.LastKnownBalance, &w.SweepTxHash, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Create inserts a new pool entry.
func (r *WalletPoolRepo) Create(ctx context.Context, entry *domain.WalletPoolEntry) error {
	query := `INSERT INTO wallet_pool (id, address, encrypted_key, status, baseline_balance, last_known_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Address, entry.EncryptedKey, entry.Status,
		entry.BaselineBalance, entry.LastKnownBalance, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet pool entry: %w", err)
	}
	return nil
}

// GetByID fetches a pool entry by its UUID.
func (r *WalletPoolRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WalletPoolEntry, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet_pool WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet pool entry by id: %w", err)
	}
	return w, nil
}

// GetBySessionID fetches the entry assigned to a session.
func (r *WalletPoolRepo) GetBySessionID(ctx context.Context, sessionID string) (*domain.WalletPoolEntry, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet_pool WHERE assigned_session_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet pool entry by session: %w", err)
	}
	return w, nil
}

// ClaimAvailable atomically moves one available entry to assigned for the
// session. SKIP LOCKED lets concurrent claimers pass each other instead of
// queueing on the same row; nil, nil signals an empty pool. Runs inside the
// caller's transaction so a failed session insert releases the claim.
// The assignment freezes baseline_balance so funding checks always measure
// against the balance at claim time, no matter how often the poller refreshes
// last_known_balance afterwards.
func (r *WalletPoolRepo) ClaimAvailable(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) (*domain.WalletPoolEntry, error) {
	query := `UPDATE wallet_pool
		SET status = 'assigned', assigned_session_id = $1, assigned_at = $2, updated_at = $2,
			baseline_balance = last_known_balance
		WHERE id = (
			SELECT id FROM wallet_pool
			WHERE status = 'available'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + walletColumns

	w, err := scanWallet(tx.QueryRow(ctx, query, sessionID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim available wallet: %w", err)
	}
	return w, nil
}

// TransitionStatus performs a conditional from->to update. Returns false
// without error when the entry was not in the expected status, so duplicate
// writers commute.
func (r *WalletPoolRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.WalletStatus) (bool, error) {
	query := `UPDATE wallet_pool SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition wallet status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateBalance stores the latest observed balance.
func (r *WalletPoolRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE wallet_pool SET last_known_balance = $1, updated_at = NOW() WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, balance, id); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

// SetSweepTxHash records the broadcast sweep transaction.
func (r *WalletPoolRepo) SetSweepTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	query := `UPDATE wallet_pool SET sweep_tx_hash = $1, updated_at = NOW() WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, txHash, id); err != nil {
		return fmt.Errorf("set sweep tx hash: %w", err)
	}
	return nil
}

// StatusCounts returns entry counts grouped by status.
func (r *WalletPoolRepo) StatusCounts(ctx context.Context) (map[domain.WalletStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM wallet_pool GROUP BY status`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count wallet statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.WalletStatus]int64)
	for rows.Next() {
		var status domain.WalletStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// TotalBalance sums cached balances of non-retired entries.
func (r *WalletPoolRepo) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(last_known_balance), 0) FROM wallet_pool WHERE status <> 'retired'`

	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum pool balance: %w", err)
	}
	return total, nil
}
