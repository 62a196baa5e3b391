package handler

import (
	"time"

	"custodial-wallet-pool/internal/adapter/http/dto"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/pkg/apperror"
	"custodial-wallet-pool/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles claim and status endpoints.
type PaymentHandler struct {
	poolSvc ports.PoolService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(poolSvc ports.PoolService) *PaymentHandler {
	return &PaymentHandler{poolSvc: poolSvc}
}

// Claim handles POST /api/v1/payments/claim.
func (h *PaymentHandler) Claim(c *gin.Context) {
	var req dto.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.poolSvc.Claim(c.Request.Context(), ports.ClaimRequest{
		SessionID:      req.SessionID,
		ExpectedAmount: req.ExpectedAmount,
		Token:          req.Token,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ClaimResponse{
		Address:   result.Address,
		Amount:    result.Amount.String(),
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.Format(time.RFC3339),
	})
}

// GetStatus handles GET /api/v1/payments/:session_id.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	sessionID := c.Param("session_id")

	snap, err := h.poolSvc.GetPaymentStatus(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.PaymentStatusResponse{
		SessionID: snap.SessionID,
		Status:    string(snap.Status),
		Address:   snap.Address,
		Amount:    snap.Amount.String(),
		Token:     snap.Token,
		TxHash:    snap.TxHash,
		ExpiresAt: snap.ExpiresAt.Format(time.RFC3339),
	})
}
