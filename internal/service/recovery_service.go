package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"custodial-wallet-pool/internal/core/domain"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/pkg/apperror"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// RecoveryServiceImpl sweeps custody funds out of wallets whose automated
// flow already ended. The private key is decrypted only inside the signing
// path and zeroed immediately after use.
type RecoveryServiceImpl struct {
	walletRepo      ports.WalletPoolRepository
	vault           ports.KeyVault
	chain           ports.ChainClient
	fee             decimal.Decimal
	confirmAttempts int
	confirmInterval time.Duration
	log             zerolog.Logger
}

func NewRecoveryService(
	walletRepo ports.WalletPoolRepository,
	vault ports.KeyVault,
	chain ports.ChainClient,
	fee decimal.Decimal,
	confirmAttempts int,
	confirmInterval time.Duration,
	log zerolog.Logger,
) *RecoveryServiceImpl {
	if confirmAttempts < 1 {
		confirmAttempts = 1
	}
	if confirmInterval <= 0 {
		confirmInterval = 3 * time.Second
	}
	return &RecoveryServiceImpl{
		walletRepo:      walletRepo,
		vault:           vault,
		chain:           chain,
		fee:             fee,
		confirmAttempts: confirmAttempts,
		confirmInterval: confirmInterval,
		log:             log,
	}
}

// Recover sweeps the wallet's balance minus the network fee to destination
// and retires the wallet once the sweep confirms. Invoking it again on a
// wallet stuck in recovering resumes confirmation of the earlier sweep
// instead of broadcasting twice.
func (s *RecoveryServiceImpl) Recover(ctx context.Context, walletID uuid.UUID, destination string) (string, error) {
	if destination == "" {
		return "", apperror.Validation("destination is required")
	}

	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("lookup wallet: %w", err))
	}
	if wallet == nil {
		return "", apperror.ErrNotFound("wallet")
	}
	if !wallet.IsRecoverable() {
		return "", apperror.ErrInvalidState(string(wallet.Status))
	}

	log := s.log.With().
		Str("wallet_id", wallet.ID.String()).
		Str("address", wallet.Address).
		Logger()

	if wallet.Status == domain.WalletStatusRecovering && wallet.SweepTxHash != nil {
		log.Info().Str("tx_hash", *wallet.SweepTxHash).Msg("resuming earlier sweep")
		return s.awaitRetirement(ctx, wallet.ID, *wallet.SweepTxHash, log)
	}

	balance, err := s.chain.AddressBalance(ctx, wallet.Address)
	if err != nil {
		return "", apperror.ErrChainUnavailable(err)
	}
	if balance.LessThanOrEqual(s.fee) {
		return "", apperror.ErrNothingToRecover()
	}
	amount := balance.Sub(s.fee)

	txHash, err := s.signAndBroadcast(ctx, wallet, destination, amount)
	if err != nil {
		return "", err
	}

	if _, err := s.walletRepo.TransitionStatus(ctx, wallet.ID, wallet.Status, domain.WalletStatusRecovering); err != nil {
		log.Error().Err(err).Msg("recovering transition failed after broadcast")
	}
	if err := s.walletRepo.SetSweepTxHash(ctx, wallet.ID, txHash); err != nil {
		log.Error().Err(err).Str("tx_hash", txHash).Msg("sweep hash persist failed")
	}

	log.Info().
		Str("tx_hash", txHash).
		Str("destination", destination).
		Str("amount", amount.String()).
		Msg("sweep broadcast")

	return s.awaitRetirement(ctx, wallet.ID, txHash, log)
}

// signAndBroadcast decrypts the key, signs the sweep digest and broadcasts.
// Key material lives only on this stack frame.
func (s *RecoveryServiceImpl) signAndBroadcast(ctx context.Context, wallet *domain.WalletPoolEntry, destination string, amount decimal.Decimal) (string, error) {
	keyBytes, err := s.vault.Decrypt(wallet.EncryptedKey)
	if err != nil {
		// Fail closed. A key that cannot be decrypted is an integrity
		// incident, not a retry candidate.
		s.log.Error().
			Str("wallet_id", wallet.ID.String()).
			Msg("wallet key decryption failed")
		return "", apperror.ErrKeyUnavailable(err)
	}
	defer zeroBytes(keyBytes)

	priv, pub := btcec.PrivKeyFromBytes(keyBytes)
	defer priv.Zero()

	sig := ecdsa.Sign(priv, sweepDigest(wallet.Address, destination, amount))

	txHash, err := s.chain.BroadcastSweep(ctx, ports.SweepRequest{
		From:      wallet.Address,
		To:        destination,
		Amount:    amount,
		Signature: hex.EncodeToString(sig.Serialize()),
		PublicKey: hex.EncodeToString(pub.SerializeCompressed()),
	})
	if err != nil {
		return "", apperror.ErrChainUnavailable(err)
	}
	return txHash, nil
}

// awaitRetirement polls sweep confirmation within a bounded budget. If the
// budget runs out the wallet stays recovering and a later invocation retires
// it.
func (s *RecoveryServiceImpl) awaitRetirement(ctx context.Context, walletID uuid.UUID, txHash string, log zerolog.Logger) (string, error) {
	for attempt := 0; attempt < s.confirmAttempts; attempt++ {
		confirmed, err := s.chain.TransactionConfirmed(ctx, txHash)
		if err != nil {
			log.Debug().Err(err).Str("tx_hash", txHash).Msg("sweep confirmation poll failed")
		}
		if confirmed {
			if _, err := s.walletRepo.TransitionStatus(ctx, walletID, domain.WalletStatusRecovering, domain.WalletStatusRetired); err != nil {
				log.Error().Err(err).Msg("retire transition failed")
			}
			log.Info().Str("tx_hash", txHash).Msg("wallet retired")
			return txHash, nil
		}

		select {
		case <-ctx.Done():
			log.Warn().Str("tx_hash", txHash).Msg("confirmation wait cancelled, wallet stays recovering")
			return txHash, nil
		case <-time.After(s.confirmInterval):
		}
	}

	log.Warn().Str("tx_hash", txHash).Msg("sweep not yet confirmed, wallet stays recovering")
	return txHash, nil
}

func sweepDigest(from, to string, amount decimal.Decimal) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(from + "|" + to + "|" + amount.String()))
	return h.Sum(nil)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
