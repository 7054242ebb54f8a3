package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// 早期数据库存的是不加盐的单轮 SHA-256 十六进制串。
var legacyHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HashPassword 使用 bcrypt 生成密码哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash 校验密码是否匹配哈希，兼容旧的 SHA-256 哈希。
func CheckPasswordHash(password, hash string) bool {
	if IsLegacyHash(hash) {
		sum := sha256.Sum256([]byte(password))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hash)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsLegacyHash 判断哈希是否为需要升级的旧格式。
func IsLegacyHash(hash string) bool {
	return legacyHashPattern.MatchString(hash)
}

// NeedsRehash 在旧格式或 bcrypt cost 低于默认值时返回 true。
func NeedsRehash(hash string) bool {
	if IsLegacyHash(hash) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < bcrypt.DefaultCost
}
