package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"staffHub/internal/database"
)

// ErrInvalidCredentials 表示用户名不存在或密码错误，两者不加区分。
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialStore 按用户名校验口令，并在登录成功时升级旧哈希。
type CredentialStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewCredentialStore(db *gorm.DB, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{db: db, logger: logger}
}

// Authenticate 返回用户名与密码匹配的用户。
func (s *CredentialStore) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	var user database.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(user.PasswordHash) {
		hashed, err := HashPassword(password)
		if err == nil {
			err = s.db.WithContext(ctx).Model(&user).Update("password_hash", hashed).Error
		}
		if err != nil {
			// 升级失败不影响本次登录，下次再试。
			s.logger.Warn("rehash password failed", slog.Uint64("user_id", uint64(user.ID)), slog.Any("error", err))
		} else {
			user.PasswordHash = hashed
			s.logger.Info("password hash upgraded", slog.Uint64("user_id", uint64(user.ID)))
		}
	}

	return &user, nil
}

// SetPassword 更新密码并清除强制改密标记。
func (s *CredentialStore) SetPassword(ctx context.Context, userID uint, password string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error
}
