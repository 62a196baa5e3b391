package ports

import (
	"context"
	"time"

	"custodial-wallet-pool/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KeyVault encrypts and decrypts custodial private keys at rest.
// Decrypt fails closed on an authentication-tag mismatch; callers must treat
// that as fatal, never as recoverable noise.
type KeyVault interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(blob string) ([]byte, error)
}

// ChainTransaction is one observed inbound transaction on an address.
type ChainTransaction struct {
	Hash      string          `json:"hash"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// SweepRequest is a signed sweep broadcast to the chain gateway.
type SweepRequest struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Signature string          `json:"signature"`
	PublicKey string          `json:"public_key"`
}

// ChainClient talks to the chain gateway. All methods are context-aware and
// apply a per-request timeout independent of any session deadline.
type ChainClient interface {
	AddressBalance(ctx context.Context, address string) (decimal.Decimal, error)
	AddressTransactions(ctx context.Context, address string) ([]ChainTransaction, error)
	BroadcastSweep(ctx context.Context, sweep SweepRequest) (string, error)
	TransactionConfirmed(ctx context.Context, txHash string) (bool, error)
}

// StatusCache is a best-effort read-through cache of payment status
// snapshots. The store stays authoritative; a miss or error is never fatal.
type StatusCache interface {
	Get(ctx context.Context, sessionID string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, sessionID string, snapshot []byte, ttl time.Duration) error
}

// --- Service Ports (Business Logic) ---

// ClaimRequest holds validated input for a wallet claim.
type ClaimRequest struct {
	SessionID      string
	ExpectedAmount decimal.Decimal
	Token          string
}

// ClaimResult is what the caller needs to collect a payment.
type ClaimResult struct {
	Address   string
	Amount    decimal.Decimal
	Token     string
	ExpiresAt time.Time
}

// GenerateResult reports a batch pool generation. Failures are per-entry;
// a partial batch is still a success.
type GenerateResult struct {
	Addresses []string
	Failed    int
}

// PoolStats is the admin snapshot of the pool.
type PoolStats struct {
	Available    int64
	Assigned     int64
	Funded       int64
	Expired      int64
	Recovering   int64
	Retired      int64
	TotalBalance decimal.Decimal
}

// PaymentStatusSnapshot is the well-formed answer to a status query. Status
// queries never trigger a chain call.
type PaymentStatusSnapshot struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status"`
	Address   string               `json:"address"`
	Amount    decimal.Decimal      `json:"amount"`
	Token     string               `json:"token"`
	TxHash    *string              `json:"tx_hash,omitempty"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// PoolService owns pool generation, allocation and status queries.
type PoolService interface {
	Generate(ctx context.Context, count int) (*GenerateResult, error)
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	Stats(ctx context.Context) (*PoolStats, error)
	GetPaymentStatus(ctx context.Context, sessionID string) (*PaymentStatusSnapshot, error)
}

// PaymentOutcome is delivered to the completion callback exactly once per
// session, once a terminal state is reached.
type PaymentOutcome struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status"`
	Address   string               `json:"address"`
	Amount    decimal.Decimal      `json:"amount"`
	Token     string               `json:"token"`
	TxHash    *string              `json:"tx_hash,omitempty"`
}

// CompletionFunc is the registered completion callback.
type CompletionFunc func(outcome PaymentOutcome)

// SessionWatcher starts background monitoring for a claimed session.
type SessionWatcher interface {
	Watch(session *domain.PaymentSession, wallet *domain.WalletPoolEntry)
}

// MonitorService supervises one chain watcher per active session.
type MonitorService interface {
	SessionWatcher
	// Resume re-derives the set of still-pending sessions from the store and
	// restarts their watchers, so a redeploy does not drop in-flight monitoring.
	Resume(ctx context.Context) error
	Stop()
	ActiveWatchers() int
}

// RecoveryService sweeps funds out of a wallet whose automated flow ended.
type RecoveryService interface {
	Recover(ctx context.Context, walletID uuid.UUID, destination string) (string, error)
}

// TokenService handles admin JWT operations.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// SignatureService handles HMAC-SHA256 signing and verification for
// completion-callback deliveries.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}
