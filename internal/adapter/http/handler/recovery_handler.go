package handler

import (
	"custodial-wallet-pool/internal/adapter/http/dto"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/pkg/apperror"
	"custodial-wallet-pool/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RecoveryHandler handles admin funds recovery.
type RecoveryHandler struct {
	recoverySvc ports.RecoveryService
}

// NewRecoveryHandler creates a new RecoveryHandler.
func NewRecoveryHandler(recoverySvc ports.RecoveryService) *RecoveryHandler {
	return &RecoveryHandler{recoverySvc: recoverySvc}
}

// Recover handles POST /api/v1/recovery/:wallet_id.
func (h *RecoveryHandler) Recover(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("wallet_id"))
	if err != nil {
		response.Error(c, apperror.Validation("wallet_id must be a UUID"))
		return
	}

	var req dto.RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	txHash, err := h.recoverySvc.Recover(c.Request.Context(), walletID, req.Destination)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RecoveryResponse{TxHash: txHash})
}
