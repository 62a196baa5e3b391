package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-pool/internal/core/domain"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/pkg/apperror"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

const (
	statusCacheTTL   = 5 * time.Second
	maxGenerateBatch = 1000

	pgUniqueViolation = "23505"
)

// PoolServiceImpl implements ports.PoolService: batch generation, atomic
// claims and status queries over the wallet pool.
type PoolServiceImpl struct {
	walletRepo  ports.WalletPoolRepository
	sessionRepo ports.PaymentSessionRepository
	transactor  ports.DBTransactor
	vault       ports.KeyVault
	watcher     ports.SessionWatcher
	cache       ports.StatusCache
	window      time.Duration // payment window applied to new claims
	log         zerolog.Logger
}

// NewPoolService creates a new PoolServiceImpl. watcher and cache may be nil
// (monitoring disabled / cache disabled).
func NewPoolService(
	walletRepo ports.WalletPoolRepository,
	sessionRepo ports.PaymentSessionRepository,
	transactor ports.DBTransactor,
	vault ports.KeyVault,
	watcher ports.SessionWatcher,
	cache ports.StatusCache,
	window time.Duration,
	log zerolog.Logger,
) *PoolServiceImpl {
	return &PoolServiceImpl{
		walletRepo:  walletRepo,
		sessionRepo: sessionRepo,
		transactor:  transactor,
		vault:       vault,
		watcher:     watcher,
		cache:       cache,
		window:      window,
		log:         log,
	}
}

// Generate creates count fresh keypairs, encrypts each private key through
// the vault and persists them as available entries. Failures are per-entry;
// the batch reports partial success instead of aborting.
func (s *PoolServiceImpl) Generate(ctx context.Context, count int) (*ports.GenerateResult, error) {
	if count <= 0 {
		return nil, apperror.Validation("count must be positive")
	}
	if count > maxGenerateBatch {
		return nil, apperror.Validation(fmt.Sprintf("count must not exceed %d", maxGenerateBatch))
	}

	result := &ports.GenerateResult{}
	for i := 0; i < count; i++ {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			result.Failed++
			s.log.Warn().Err(err).Msg("keypair generation failed")
			continue
		}

		address := DeriveAddress(priv.PubKey())

		blob, err := s.vault.Encrypt(priv.Serialize())
		priv.Zero()
		if err != nil {
			result.Failed++
			s.log.Warn().Err(err).Str("address", address).Msg("private key encryption failed")
			continue
		}

		now := time.Now().UTC()
		entry := &domain.WalletPoolEntry{
			ID:               uuid.New(),
			Address:          address,
			EncryptedKey:     blob,
			Status:           domain.WalletStatusAvailable,
			BaselineBalance:  decimal.Zero,
			LastKnownBalance: decimal.Zero,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.walletRepo.Create(ctx, entry); err != nil {
			result.Failed++
			s.log.Warn().Err(err).Str("address", address).Msg("wallet entry insert failed")
			continue
		}

		result.Addresses = append(result.Addresses, address)
	}

	s.log.Info().
		Int("requested", count).
		Int("created", len(result.Addresses)).
		Int("failed", result.Failed).
		Msg("pool generation finished")

	return result, nil
}

// Claim atomically assigns one available wallet to the session. Re-claiming
// with the same sessionId before a terminal state returns the already
// assigned wallet; a session that already finished gets AlreadyAssigned.
func (s *PoolServiceImpl) Claim(ctx context.Context, req ports.ClaimRequest) (*ports.ClaimResult, error) {
	if req.SessionID == "" {
		return nil, apperror.Validation("session_id is required")
	}
	if req.ExpectedAmount.LessThanOrEqual(decimal.Zero) {
		return nil, apperror.ErrInvalidAmount()
	}

	if result, err := s.existingClaim(ctx, req.SessionID); err != nil || result != nil {
		return result, err
	}

	now := time.Now().UTC()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.ClaimAvailable(ctx, dbTx, req.SessionID, now)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("claim wallet: %w", err))
	}
	if wallet == nil {
		s.log.Warn().Str("session_id", req.SessionID).Msg("wallet pool exhausted")
		return nil, apperror.ErrPoolExhausted()
	}

	session := &domain.PaymentSession{
		SessionID:      req.SessionID,
		WalletID:       wallet.ID,
		ExpectedAmount: req.ExpectedAmount,
		Token:          req.Token,
		Status:         domain.SessionStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.window),
	}
	if err := s.sessionRepo.Create(ctx, dbTx, session); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Lost a concurrent claim race for the same session. Rolling back
			// releases the wallet this tx just assigned; return the winner's.
			_ = dbTx.Rollback(ctx)
			result, err := s.existingClaim(ctx, req.SessionID)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, apperror.InternalError(fmt.Errorf("duplicate session %s vanished", req.SessionID))
			}
			return result, nil
		}
		return nil, apperror.InternalError(fmt.Errorf("create session: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit claim: %w", err))
	}

	s.log.Info().
		Str("session_id", req.SessionID).
		Str("address", wallet.Address).
		Str("expected_amount", req.ExpectedAmount.String()).
		Str("token", req.Token).
		Time("expires_at", session.ExpiresAt).
		Msg("wallet claimed")

	if s.watcher != nil {
		s.watcher.Watch(session, wallet)
	}

	return &ports.ClaimResult{
		Address:   wallet.Address,
		Amount:    req.ExpectedAmount,
		Token:     req.Token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// existingClaim returns the prior assignment for sessionID, nil when the
// session is unknown, or AlreadyAssigned when it already reached a terminal
// state.
func (s *PoolServiceImpl) existingClaim(ctx context.Context, sessionID string) (*ports.ClaimResult, error) {
	session, err := s.sessionRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup session: %w", err))
	}
	if session == nil {
		return nil, nil
	}
	if session.IsTerminal() {
		return nil, apperror.ErrAlreadyAssigned()
	}

	wallet, err := s.walletRepo.GetByID(ctx, session.WalletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.InternalError(fmt.Errorf("session %s references missing wallet %s", sessionID, session.WalletID))
	}

	return &ports.ClaimResult{
		Address:   wallet.Address,
		Amount:    session.ExpectedAmount,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Stats returns counts by status plus the total funds under custody.
// The balance sum uses cached per-wallet balances and is best effort.
func (s *PoolServiceImpl) Stats(ctx context.Context) (*ports.PoolStats, error) {
	counts, err := s.walletRepo.StatusCounts(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("status counts: %w", err))
	}

	total, err := s.walletRepo.TotalBalance(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("total balance unavailable, reporting zero")
		total = decimal.Zero
	}

	return &ports.PoolStats{
		Available:    counts[domain.WalletStatusAvailable],
		Assigned:     counts[domain.WalletStatusAssigned],
		Funded:       counts[domain.WalletStatusFunded],
		Expired:      counts[domain.WalletStatusExpired],
		Recovering:   counts[domain.WalletStatusRecovering],
		Retired:      counts[domain.WalletStatusRetired],
		TotalBalance: total,
	}, nil
}

// GetPaymentStatus returns the current session snapshot. It is a pure read:
// Redis serves as a short-lived read-through view, the store stays
// authoritative, and no chain call is ever made here.
func (s *PoolServiceImpl) GetPaymentStatus(ctx context.Context, sessionID string) (*ports.PaymentStatusSnapshot, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, sessionID); err == nil && cached != nil {
			var snap ports.PaymentStatusSnapshot
			if json.Unmarshal(cached, &snap) == nil {
				return &snap, nil
			}
		}
	}

	session, err := s.sessionRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup session: %w", err))
	}
	if session == nil {
		return nil, apperror.ErrNotFound("payment session")
	}

	wallet, err := s.walletRepo.GetByID(ctx, session.WalletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.InternalError(fmt.Errorf("session %s references missing wallet %s", sessionID, session.WalletID))
	}

	snap := &ports.PaymentStatusSnapshot{
		SessionID: session.SessionID,
		Status:    session.Status,
		Address:   wallet.Address,
		Amount:    session.ExpectedAmount,
		Token:     session.Token,
		TxHash:    session.TxHash,
		ExpiresAt: session.ExpiresAt,
	}

	if s.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, sessionID, raw, statusCacheTTL); err != nil {
				s.log.Debug().Err(err).Str("session_id", sessionID).Msg("status cache write failed")
			}
		}
	}

	return snap, nil
}

// DeriveAddress derives the public chain address for a secp256k1 public key:
// Keccak-256 over the uncompressed key body, last 20 bytes, 0x-prefixed hex.
func DeriveAddress(pub *btcec.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}
