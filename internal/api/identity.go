package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"staffHub/internal/access"
	"staffHub/internal/api/middleware"
	"staffHub/internal/database"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}

func isAdminFromContext(c *gin.Context) bool {
	return c.GetBool(middleware.IsAdminKey)
}

func loggerFor(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil && logger != slog.Default() {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// loadUser 读取当前账号及其关联档案。
func loadUser(ctx context.Context, db *gorm.DB, userID uint) (*database.User, error) {
	var user database.User
	if err := db.WithContext(ctx).Preload("Profile").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// requesterFrom 构造访问判定所需的请求方信息。
func requesterFrom(c *gin.Context, db *gorm.DB) (access.Requester, error) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return access.Requester{}, gorm.ErrRecordNotFound
	}
	user, err := loadUser(c.Request.Context(), db, userID)
	if err != nil {
		return access.Requester{}, err
	}
	return access.Requester{UserID: user.ID, IsAdmin: user.IsAdmin, Profile: user.Profile}, nil
}

// requesterOrAbort 在失败时写入响应并返回 false。
func requesterOrAbort(c *gin.Context, db *gorm.DB, log *slog.Logger) (access.Requester, bool) {
	req, err := requesterFrom(c, db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortUnauthorized(c)
			return req, false
		}
		log.Error("load requester failed", slog.Any("error", err))
		Internal(c, "internal error")
		return req, false
	}
	return req, true
}
