package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"staffHub/internal/auth"
)

const (
	refreshTokenCookieName         = "refresh_token"
	refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"
)

var errRefreshRevoked = errors.New("refresh token revoked")

// refreshSessions 管理刷新令牌：Cookie 读写与基于 jti 的 Redis 黑名单。
type refreshSessions struct {
	auth         *auth.AuthService
	redis        redis.UniversalClient
	cookieDomain string
}

// parse 校验令牌类型与 jti，并确认未被吊销。
func (s *refreshSessions) parse(ctx context.Context, token string) (*auth.TokenClaims, error) {
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "refresh" {
		return nil, errors.New("not a refresh token: " + claims.TokenType)
	}
	if claims.ID == "" {
		return nil, errors.New("refresh token missing jti")
	}
	switch err := s.redis.Get(ctx, refreshTokenBlacklistKeyPrefix+claims.ID).Err(); {
	case err == nil:
		return nil, errRefreshRevoked
	case !errors.Is(err, redis.Nil):
		return nil, err
	}
	return claims, nil
}

// revoke 将 jti 加入黑名单直到令牌自然过期。
func (s *refreshSessions) revoke(ctx context.Context, claims *auth.TokenClaims) error {
	ttl := s.auth.RefreshTokenTTL()
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.redis.Set(ctx, refreshTokenBlacklistKeyPrefix+claims.ID, "revoked", ttl).Err()
}

// extract 优先读取 Cookie，其次是 JSON body 中的 refresh_token。
func (s *refreshSessions) extract(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func (s *refreshSessions) setCookie(c *gin.Context, token string) {
	ttl := s.auth.RefreshTokenTTL()
	if ttl <= 0 {
		ttl = time.Hour
	}
	s.writeCookie(c, token, int(ttl.Seconds()), time.Now().Add(ttl))
}

func (s *refreshSessions) clearCookie(c *gin.Context) {
	s.writeCookie(c, "", -1, time.Time{})
}

func (s *refreshSessions) writeCookie(c *gin.Context, value string, maxAge int, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    value,
		MaxAge:   maxAge,
		Expires:  expires,
		Path:     "/",
		Domain:   strings.TrimSpace(s.cookieDomain),
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}
