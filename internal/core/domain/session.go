package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus represents the lifecycle state of a payment session.
// Transitions are monotonic: pending moves to exactly one terminal state.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusConfirmed SessionStatus = "confirmed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusFailed    SessionStatus = "failed"
)

// PaymentSession tracks one payment attempt against one pooled wallet.
// Created by the allocator at claim time, owned by the chain monitor until a
// terminal state is reached.
type PaymentSession struct {
	SessionID      string          `json:"session_id"` // caller-supplied correlation id
	WalletID       uuid.UUID       `json:"wallet_id"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Token          string          `json:"token"`
	Status         SessionStatus   `json:"status"`
	TxHash         *string         `json:"tx_hash,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// IsTerminal returns true if the session is in a final state.
func (s *PaymentSession) IsTerminal() bool {
	return s.Status == SessionStatusConfirmed ||
		s.Status == SessionStatusExpired ||
		s.Status == SessionStatusFailed
}

// Matches reports whether an observed balance delta satisfies the expected
// amount within the tolerance band (chain fee / rounding drift).
func (s *PaymentSession) Matches(delta, tolerance decimal.Decimal) bool {
	return delta.GreaterThanOrEqual(s.ExpectedAmount.Sub(tolerance))
}
