package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"staffHub/internal/auth"
	"staffHub/internal/database"
)

// AuthHandler 处理注册、登录、刷新、退出与改密。
type AuthHandler struct {
	db          *gorm.DB
	authService *auth.AuthService
	credentials *auth.CredentialStore
	guard       *loginGuard
	sessions    *refreshSessions
	logger      *slog.Logger
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, credentials *auth.CredentialStore, redisClient redis.UniversalClient, logger *slog.Logger, loginRateLimitPerHour int, loginLockThreshold int, loginLockTTL time.Duration, cookieDomain string) *AuthHandler {
	return &AuthHandler{
		db:          db,
		authService: authService,
		credentials: credentials,
		guard:       newLoginGuard(redisClient, loginRateLimitPerHour, loginLockThreshold, loginLockTTL),
		sessions:    &refreshSessions{auth: authService, redis: redisClient, cookieDomain: cookieDomain},
		logger:      logger,
	}
}

type registerRequest struct {
	Username        string `json:"username" binding:"required,min=3,max=64"`
	Password        string `json:"password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// Register 创建普通账号，随后需通过自助建档关联员工档案。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		BadRequest(c, "password confirmation does not match")
		return
	}
	username := strings.TrimSpace(req.Username)

	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.String("username", username))

	var taken int64
	if err := h.db.WithContext(ctx).Model(&database.User{}).Where("username = ?", username).Count(&taken).Error; err != nil {
		log.Error("register lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if taken > 0 {
		Conflict(c, "username already taken")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	user := database.User{Username: username, PasswordHash: hashed}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		log.Error("create user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	log.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	IsAdmin            bool   `json:"is_admin"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Login 校验口令并返回 Token，刷新令牌写入 HttpOnly Cookie。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.String("username", req.Username))

	if err := h.guard.Allow(ctx, c.ClientIP(), req.Username); err != nil {
		log.Info("login throttled", slog.String("reason", err.Error()))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	user, err := h.credentials.Authenticate(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Info("login failed: invalid credentials")
			h.guard.Failed(ctx, req.Username)
			Unauthorized(c)
			return
		}
		log.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.guard.Succeeded(ctx, req.Username)

	log.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)))
	h.issueTokens(c, log, identityOf(user))
}

// Refresh 校验刷新令牌并颁发新的 TokenPair，旧令牌随即吊销。
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := h.sessions.extract(c)
	if token == "" {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	log := loggerFor(c, h.logger)

	claims, err := h.sessions.parse(ctx, token)
	if err != nil {
		log.Info("refresh rejected", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	// 重新读取账号，使权限变更在下一次刷新时生效。
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		log.Info("refresh user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if err := h.sessions.revoke(ctx, claims); err != nil {
		log.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.issueTokens(c, log, identityOf(&user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,max=72"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ChangePassword 校验当前密码后更新，并清除首次登录改密标记。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		BadRequest(c, "password confirmation does not match")
		return
	}
	if req.NewPassword == req.CurrentPassword {
		BadRequest(c, "new password must be different from current password")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		log.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if !auth.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		log.Info("change password: current password mismatch")
		Unauthorized(c)
		return
	}

	if err := h.credentials.SetPassword(ctx, user.ID, req.NewPassword); err != nil {
		log.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 旧会话的刷新令牌作废。
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		if claims, err := h.sessions.parse(ctx, token); err == nil {
			if err := h.sessions.revoke(ctx, claims); err != nil {
				log.Warn("change password: revoke refresh failed", slog.Any("error", err))
			}
		}
	}

	user.MustChangePassword = false
	log.Info("password changed")
	h.issueTokens(c, log, identityOf(&user))
}

// Logout 吊销刷新令牌并清除 Cookie。
func (h *AuthHandler) Logout(c *gin.Context) {
	token := h.sessions.extract(c)
	if token == "" {
		BadRequest(c, "refresh token missing")
		return
	}

	ctx := c.Request.Context()
	log := loggerFor(c, h.logger)

	claims, err := h.sessions.parse(ctx, token)
	switch {
	case errors.Is(err, errRefreshRevoked):
		// 重复退出视为成功。
	case err != nil:
		log.Info("logout token rejected", slog.Any("error", err))
		Unauthorized(c)
		return
	default:
		if err := h.sessions.revoke(ctx, claims); err != nil {
			log.Error("logout revoke token failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
	}

	h.sessions.clearCookie(c)
	c.Status(http.StatusOK)
}

func identityOf(user *database.User) auth.Identity {
	return auth.Identity{
		UserID:             user.ID,
		IsAdmin:            user.IsAdmin,
		MustChangePassword: user.MustChangePassword,
	}
}

func (h *AuthHandler) issueTokens(c *gin.Context, log *slog.Logger, identity auth.Identity) {
	pair, err := h.authService.GenerateTokenPair(identity)
	if err != nil {
		log.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.sessions.setCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        pair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		IsAdmin:            identity.IsAdmin,
		MustChangePassword: identity.MustChangePassword,
	})
}
