package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"staffHub/internal/access"
	"staffHub/internal/api/middleware"
	"staffHub/internal/auth"
	"staffHub/internal/config"
	"staffHub/internal/documents"
)

// Dependencies 汇总路由所需的组件，由 cmd/api 构造后注入。
type Dependencies struct {
	Config      *config.Config
	DB          *gorm.DB
	AuthService *auth.AuthService
	Credentials *auth.CredentialStore
	Redis       *redis.Client
	Documents   *documents.Service
	Gate        *access.Gate
	Queue       documents.Enqueuer
	Logger      *slog.Logger
}

// RegisterRoutes 注册 API 路由，统一挂在 /v1 下。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	authHandler := NewAuthHandler(
		deps.DB, deps.AuthService, deps.Credentials, deps.Redis, deps.Logger,
		cfg.Auth.LoginRateLimitPerHour, cfg.Auth.LoginLockThreshold, loginLockTTL(cfg.Auth.LoginLockTTL),
		cfg.API.CookieDomain,
	)
	wsHandler := NewWsHandler(deps.Redis, deps.AuthService, deps.Logger, cfg.API.AllowedOrigins)
	userHandler := NewUserHandler(deps.DB, deps.Logger)
	profileHandler := NewProfileHandler(deps.DB, deps.Documents, deps.Gate, deps.Queue, deps.Logger)
	onboardingHandler := NewOnboardingHandler(deps.DB, deps.Logger)
	documentHandler := NewDocumentHandler(deps.DB, deps.Documents, deps.Gate, deps.Logger)
	fileHandler := NewFileHandler(deps.DB, deps.Documents, deps.Gate, deps.Logger)

	authMiddleware := middleware.AuthMiddleware(deps.AuthService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()
	adminOnly := middleware.RequireAdminMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		protected := v1.Group("")
		protected.Use(authMiddleware, passwordGate)
		{
			protected.GET("/dashboard", profileHandler.Dashboard)

			protected.GET("/profiles", profileHandler.ListProfiles)
			protected.GET("/profiles/search", profileHandler.SearchProfiles)
			protected.GET("/profiles/:id", profileHandler.GetProfile)
			protected.POST("/profiles", adminOnly, profileHandler.CreateProfile)
			protected.PUT("/profiles/:id", adminOnly, profileHandler.UpdateProfile)
			protected.DELETE("/profiles/:id", adminOnly, profileHandler.DeleteProfile)
			protected.GET("/positions", profileHandler.Positions)

			protected.GET("/departments", profileHandler.ListDepartments)
			protected.POST("/departments", adminOnly, profileHandler.CreateDepartment)
			protected.GET("/departments/:name/profiles", profileHandler.DepartmentProfiles)

			protected.POST("/admin/users", adminOnly, userHandler.CreateUser)

			protected.GET("/onboarding", onboardingHandler.Status)
			protected.POST("/onboarding", onboardingHandler.Submit)
			protected.PUT("/onboarding", onboardingHandler.Update)

			protected.POST("/profiles/:id/documents", documentHandler.UploadDocument)
			protected.GET("/profiles/:id/documents", documentHandler.ListDocuments)
			protected.POST("/profiles/:id/picture", documentHandler.UploadPicture)
			protected.DELETE("/documents/:id", documentHandler.DeleteDocument)

			protected.GET("/files/*path", fileHandler.ServeFile)
		}
	}
}

func loginLockTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 15 * time.Minute
	}
	return ttl
}
