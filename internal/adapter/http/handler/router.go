package handler

import (
	"custodial-wallet-pool/internal/adapter/http/middleware"
	"custodial-wallet-pool/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PoolSvc        ports.PoolService
	RecoverySvc    ports.RecoveryService
	TokenSvc       ports.TokenService
	AdminKey       string
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	authHandler := NewAuthHandler(deps.AdminKey, deps.TokenSvc)
	v1.POST("/auth/login", authHandler.Login)

	paymentHandler := NewPaymentHandler(deps.PoolSvc)
	payments := v1.Group("/payments")
	{
		payments.POST("/claim", paymentHandler.Claim)
		payments.GET("/:session_id", paymentHandler.GetStatus)
	}

	// --- JWT-authenticated admin routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	poolHandler := NewPoolHandler(deps.PoolSvc)
	pool := v1.Group("/pool", jwtAuth)
	{
		pool.POST("/generate", poolHandler.Generate)
		pool.GET("/stats", poolHandler.Stats)
	}

	recoveryHandler := NewRecoveryHandler(deps.RecoverySvc)
	v1.POST("/recovery/:wallet_id", jwtAuth, recoveryHandler.Recover)

	return r
}
