package handler

import (
	"custodial-wallet-pool/internal/adapter/http/dto"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/pkg/apperror"
	"custodial-wallet-pool/pkg/response"

	"github.com/gin-gonic/gin"
)

// PoolHandler handles admin pool endpoints.
type PoolHandler struct {
	poolSvc ports.PoolService
}

// NewPoolHandler creates a new PoolHandler.
func NewPoolHandler(poolSvc ports.PoolService) *PoolHandler {
	return &PoolHandler{poolSvc: poolSvc}
}

// Generate handles POST /api/v1/pool/generate.
func (h *PoolHandler) Generate(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.poolSvc.Generate(c.Request.Context(), req.Count)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.GenerateResponse{
		Addresses: result.Addresses,
		Created:   len(result.Addresses),
		Failed:    result.Failed,
	})
}

// Stats handles GET /api/v1/pool/stats.
func (h *PoolHandler) Stats(c *gin.Context) {
	stats, err := h.poolSvc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.PoolStatsResponse{
		Available:    stats.Available,
		Assigned:     stats.Assigned,
		Funded:       stats.Funded,
		Expired:      stats.Expired,
		Recovering:   stats.Recovering,
		Retired:      stats.Retired,
		TotalBalance: stats.TotalBalance.String(),
	})
}
