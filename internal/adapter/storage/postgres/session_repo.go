package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-pool/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SessionRepo implements ports.PaymentSessionRepository.
type SessionRepo struct {
	pool Pool
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(pool Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `session_id, wallet_id, expected_amount, token, status, tx_hash,
	confirmed_at, created_at, expires_at`

func scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	s := &domain.PaymentSession{}
	err := row.Scan(
		&s.SessionID, &s.WalletID, &s.ExpectedAmount, &s.Token, &s.Status,
		&s.TxHash, &s.ConfirmedAt, &s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a session inside the caller's transaction. The primary key
// on session_id is the idempotency guard: a duplicate claim surfaces as a
// unique violation here and rolls back the wallet assignment with it.
func (r *SessionRepo) Create(ctx context.Context, tx pgx.Tx, session *domain.PaymentSession) error {
	query := `INSERT INTO payment_sessions (session_id, wallet_id, expected_amount, token, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		session.SessionID, session.WalletID, session.ExpectedAmount,
		session.Token, session.Status, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

// GetBySessionID fetches a session by its caller-supplied id.
func (r *SessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE session_id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment session: %w", err)
	}
	return s, nil
}

// TransitionStatus performs a conditional from->to update. Returns false
// when the session already left the expected status.
func (r *SessionRepo) TransitionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	query := `UPDATE payment_sessions SET status = $1 WHERE session_id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, to, sessionID, from)
	if err != nil {
		return false, fmt.Errorf("transition session status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkConfirmed moves a pending session to confirmed with its tx hash.
// Returns false when another writer already finished the session.
func (r *SessionRepo) MarkConfirmed(ctx context.Context, sessionID, txHash string, at time.Time) (bool, error) {
	query := `UPDATE payment_sessions
		SET status = 'confirmed', tx_hash = NULLIF($1, ''), confirmed_at = $2
		WHERE session_id = $3 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, txHash, at, sessionID)
	if err != nil {
		return false, fmt.Errorf("confirm payment session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStatus returns all sessions currently in status.
func (r *SessionRepo) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE status = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list sessions by status: %w", err)
	}
	defer rows.Close()

	var sessions []domain.PaymentSession
	for rows.Next() {
		s := domain.PaymentSession{}
		if err := rows.Scan(
			&s.SessionID, &s.WalletID, &s.ExpectedAmount, &s.Token, &s.Status,
			&s.TxHash, &s.ConfirmedAt, &s.CreatedAt, &s.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment sessions: %w", err)
	}
	return sessions, nil
}
