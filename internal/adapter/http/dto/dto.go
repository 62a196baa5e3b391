package dto

import "github.com/shopspring/decimal"

// LoginRequest is the request body for admin login.
type LoginRequest struct {
	AdminKey string `json:"admin_key" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// GenerateRequest is the request body for pool generation.
type GenerateRequest struct {
	Count int `json:"count" binding:"required,gt=0,lte=1000"`
}

// GenerateResponse reports a generation batch.
type GenerateResponse struct {
	Addresses []string `json:"addresses"`
	Created   int      `json:"created"`
	Failed    int      `json:"failed"`
}

// PoolStatsResponse is the admin snapshot of the pool.
type PoolStatsResponse struct {
	Available    int64  `json:"available"`
	Assigned     int64  `json:"assigned"`
	Funded       int64  `json:"funded"`
	Expired      int64  `json:"expired"`
	Recovering   int64  `json:"recovering"`
	Retired      int64  `json:"retired"`
	TotalBalance string `json:"total_balance"`
}

// ClaimRequest is the request body for a wallet claim.
type ClaimRequest struct {
	SessionID      string          `json:"session_id" binding:"required,max=128"`
	ExpectedAmount decimal.Decimal `json:"expected_amount" binding:"required"`
	Token          string          `json:"token" binding:"required,max=16"`
}

// ClaimResponse tells the caller where to send the payment.
type ClaimResponse struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// PaymentStatusResponse is the status snapshot of a session.
type PaymentStatusResponse struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Address   string  `json:"address"`
	Amount    string  `json:"amount"`
	Token     string  `json:"token"`
	TxHash    *string `json:"tx_hash,omitempty"`
	ExpiresAt string  `json:"expires_at"`
}

// RecoveryRequest is the request body for a funds sweep.
type RecoveryRequest struct {
	Destination string `json:"destination" binding:"required,max=128"`
}

// RecoveryResponse reports the broadcast sweep.
type RecoveryResponse struct {
	TxHash string `json:"tx_hash"`
}
