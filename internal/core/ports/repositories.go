package ports

import (
	"context"
	"time"

	"custodial-wallet-pool/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletPoolRepository defines persistence operations for the wallet pool.
// Status transitions are conditional writes so that duplicate timers,
// restarts and concurrent recovery commute instead of racing.
type WalletPoolRepository interface {
	Create(ctx context.Context, entry *domain.WalletPoolEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WalletPoolEntry, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.WalletPoolEntry, error)
	// ClaimAvailable atomically selects one available entry and moves it to
	// assigned for the given session. Returns nil, nil when the pool is empty.
	// Must be called within a transaction so a failed session insert releases
	// the claim.
	ClaimAvailable(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) (*domain.WalletPoolEntry, error)
	// TransitionStatus performs a conditional from->to update. Returns false
	// (no error) when the entry was not in the expected from status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.WalletStatus) (bool, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	SetSweepTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	StatusCounts(ctx context.Context) (map[domain.WalletStatus]int64, error)
	// TotalBalance sums cached balances of non-retired entries (best effort).
	TotalBalance(ctx context.Context) (decimal.Decimal, error)
}

// PaymentSessionRepository defines persistence operations for payment sessions.
type PaymentSessionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, session *domain.PaymentSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentSession, error)
	// TransitionStatus performs a conditional from->to update. Returns false
	// when the session was not in the expected from status.
	TransitionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error)
	// MarkConfirmed moves a pending session to confirmed with its tx hash.
	// Returns false when the session already left pending.
	MarkConfirmed(ctx context.Context, sessionID, txHash string, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.PaymentSession, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
