package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletStatus represents the lifecycle state of a pooled custodial wallet.
type WalletStatus string

const (
	WalletStatusAvailable  WalletStatus = "available"
	WalletStatusAssigned   WalletStatus = "assigned"
	WalletStatusFunded     WalletStatus = "funded"
	WalletStatusExpired    WalletStatus = "expired"
	WalletStatusRecovering WalletStatus = "recovering"
	WalletStatusRetired    WalletStatus = "retired"
)

// WalletPoolEntry is one custodial address in the pool. Entries are never
// deleted and an address services at most one payment session over its
// lifetime; status transitions are the only permitted mutation.
type WalletPoolEntry struct {
	ID                uuid.UUID       `json:"id"`
	Address           string          `json:"address"`
	EncryptedKey      string          `json:"-"` // vault blob: nonce || authTag || ciphertext, hex
	Status            WalletStatus    `json:"status"`
	AssignedSessionID *string         `json:"assigned_session_id,omitempty"`
	AssignedAt        *time.Time      `json:"assigned_at,omitempty"`
	BaselineBalance   decimal.Decimal `json:"baseline_balance"` // balance at assignment; funding is measured as the delta above it
	LastKnownBalance  decimal.Decimal `json:"last_known_balance"`
	SweepTxHash       *string         `json:"sweep_tx_hash,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsTerminal returns true once the wallet can no longer change state.
func (w *WalletPoolEntry) IsTerminal() bool {
	return w.Status == WalletStatusRetired
}

// IsRecoverable returns true if the recovery service may sweep this wallet.
// Wallets holding a live claim (available/assigned) are never recoverable.
func (w *WalletPoolEntry) IsRecoverable() bool {
	return w.Status == WalletStatusFunded ||
		w.Status == WalletStatusExpired ||
		w.Status == WalletStatusRecovering
}
