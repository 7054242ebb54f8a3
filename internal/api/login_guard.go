package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errLoginRateLimited = errors.New("rate limit exceeded")
	errLoginLocked      = errors.New("account temporarily locked")
)

// loginGuard 基于 Redis 计数实现登录限流与连续失败锁定。
// Redis 不可用时放行，登录本身不依赖它。
type loginGuard struct {
	redis     redis.UniversalClient
	perHour   int
	threshold int
	lockTTL   time.Duration
}

func newLoginGuard(client redis.UniversalClient, perHour, threshold int, lockTTL time.Duration) *loginGuard {
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &loginGuard{redis: client, perHour: perHour, threshold: threshold, lockTTL: lockTTL}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func lockKey(username string) string { return "lock:login:" + username }

func failKey(username string) string { return "lock:login:fail:" + username }

// Allow 在尝试校验口令前调用：每 IP+用户名 每小时限 perHour 次，锁定期内直接拒绝。
func (g *loginGuard) Allow(ctx context.Context, ip, username string) error {
	name := normalizeUsername(username)
	if g.perHour > 0 {
		window := time.Now().UTC().Format("2006010215")
		count, err := g.incr(ctx, "rate:login:"+ip+":"+name+":"+window, time.Hour)
		if err == nil && count > int64(g.perHour) {
			return errLoginRateLimited
		}
	}
	if ttl, err := g.redis.TTL(ctx, lockKey(name)).Result(); err == nil && ttl > 0 {
		return errLoginLocked
	}
	return nil
}

// Failed 记录一次口令错误，达到阈值后锁定账号 lockTTL。
func (g *loginGuard) Failed(ctx context.Context, username string) {
	if g.threshold <= 0 {
		return
	}
	name := normalizeUsername(username)
	count, err := g.incr(ctx, failKey(name), g.lockTTL)
	if err != nil {
		return
	}
	if count >= int64(g.threshold) {
		_ = g.redis.Set(ctx, lockKey(name), "1", g.lockTTL).Err()
	}
}

// Succeeded 清理失败计数。
func (g *loginGuard) Succeeded(ctx context.Context, username string) {
	_ = g.redis.Del(ctx, failKey(normalizeUsername(username))).Err()
}

// incr 自增计数，首次写入时设置过期时间。
func (g *loginGuard) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = g.redis.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
