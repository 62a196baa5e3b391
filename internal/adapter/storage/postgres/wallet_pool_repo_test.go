package postgres

import (
	"context"
	"testing"
	"time"

	"custodial-wallet-pool/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry() *domain.WalletPoolEntry {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.WalletPoolEntry{
		ID:               uuid.New(),
		Address:          "0xaabbccddeeff00112233445566778899aabbccdd",
		EncryptedKey:     "0a0b0c0d",
		Status:           domain.WalletStatusAvailable,
		LastKnownBalance: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func walletPoolColumns() []string {
	return []string{"id", "address", "encrypted_key", "status", "assigned_session_id",
		"assigned_at", "baseline_balance", "last_known_balance", "sweep_tx_hash", "created_at", "updated_at"}
}

func walletPoolRow(w *domain.WalletPoolEntry) *pgxmock.Rows {
	return pgxmock.NewRows(walletPoolColumns()).AddRow(
		w.ID, w.Address, w.EncryptedKey, w.Status, w.AssignedSessionID,
		w.AssignedAt, w.BaselineBalance, w.LastKnownBalance, w.SweepTxHash, w.CreatedAt, w.UpdatedAt,
	)
}

func TestWalletPoolRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)
	w := newTestEntry()

	mock.ExpectExec("INSERT INTO wallet_pool").
		WithArgs(w.ID, w.Address, w.EncryptedKey, w.Status,
			w.BaselineBalance, w.LastKnownBalance, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), w)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletPoolRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)
	w := newTestEntry()

	mock.ExpectQuery("SELECT .+ FROM wallet_pool WHERE id").
		WithArgs(w.ID).
		WillReturnRows(walletPoolRow(w))

	result, err := repo.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, w.ID, result.ID)
	assert.Equal(t, w.Address, result.Address)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletPoolRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM wallet_pool WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(walletPoolColumns()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletPoolRepo_ClaimAvailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)
	w := newTestEntry()
	sessionID := "sess-1"
	at := time.Now().UTC()
	w.Status = domain.WalletStatusAssigned
	w.AssignedSessionID = &sessionID
	w.AssignedAt = &at
	w.BaselineBalance = decimal.RequireFromString("12.5")
	w.LastKnownBalance = w.BaselineBalance

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wallet_pool").
		WithArgs(sessionID, at).
		WillReturnRows(walletPoolRow(w))
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.ClaimAvailable(context.Background(), tx, sessionID, at)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.WalletStatusAssigned, result.Status)
	require.NotNil(t, result.AssignedSessionID)
	assert.Equal(t, sessionID, *result.AssignedSessionID)
	assert.True(t, result.BaselineBalance.Equal(result.LastKnownBalance), "claim snapshots the balance as the funding baseline")

	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletPoolRepo_ClaimAvailable_EmptyPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wallet_pool").
		WithArgs("sess-empty", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(walletPoolColumns()))
	mock.ExpectRollback()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	result, err := repo.ClaimAvailable(context.Background(), tx, "sess-empty", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestWalletPoolRepo_TransitionStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE wallet_pool SET status").
		WithArgs(domain.WalletStatusFunded, id, domain.WalletStatusAssigned).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	moved, err := repo.TransitionStatus(context.Background(), id, domain.WalletStatusAssigned, domain.WalletStatusFunded)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletPoolRepo_TransitionStatus_WrongFromState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE wallet_pool SET status").
		WithArgs(domain.WalletStatusFunded, id, domain.WalletStatusAssigned).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	moved, err := repo.TransitionStatus(context.Background(), id, domain.WalletStatusAssigned, domain.WalletStatusFunded)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestWalletPoolRepo_StatusCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow(domain.WalletStatusAvailable, int64(7)).
			AddRow(domain.WalletStatusAssigned, int64(2)))

	counts, err := repo.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), counts[domain.WalletStatusAvailable])
	assert.Equal(t, int64(2), counts[domain.WalletStatusAssigned])
}

func TestWalletPoolRepo_TotalBalance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletPoolRepo(mock)

	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(decimal.RequireFromString("314.15")))

	total, err := repo.TotalBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("314.15")))
}
