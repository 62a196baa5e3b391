package handler

import (
	"crypto/subtle"
	"net/http"

	"custodial-wallet-pool/internal/adapter/http/dto"
	"custodial-wallet-pool/internal/core/ports"
	"custodial-wallet-pool/pkg/apperror"
	"custodial-wallet-pool/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues admin JWTs.
type AuthHandler struct {
	adminKey string
	tokenSvc ports.TokenService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(adminKey string, tokenSvc ports.TokenService) *AuthHandler {
	return &AuthHandler{adminKey: adminKey, tokenSvc: tokenSvc}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if h.adminKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.AdminKey), []byte(h.adminKey)) != 1 {
		response.Error(c, apperror.ErrInvalidAdminKey())
		return
	}

	token, expiry, err := h.tokenSvc.Generate("admin")
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, dto.LoginResponse{Token: token, Expiry: expiry.Unix()})
}

// HealthCheck handles GET /health with a deep dependency check.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
