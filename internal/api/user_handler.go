package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"staffHub/internal/auth"
	"staffHub/internal/database"
)

// UserHandler 提供管理员创建员工账号的接口。
type UserHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewUserHandler(db *gorm.DB, logger *slog.Logger) *UserHandler {
	return &UserHandler{db: db, logger: logger}
}

type createUserRequest struct {
	Username     string `json:"username" binding:"required,min=3,max=64"`
	Password     string `json:"password" binding:"required,min=8,max=72"`
	EmployeeCode string `json:"employee_code" binding:"required,max=50"`
	IsAdmin      bool   `json:"is_admin"`
}

type userResponse struct {
	ID                 uint   `json:"id"`
	Username           string `json:"username"`
	EmployeeCode       string `json:"employee_code"`
	IsAdmin            bool   `json:"is_admin"`
	MustChangePassword bool   `json:"must_change_password"`
	ProfileID          *uint  `json:"profile_id"`
}

// CreateUser 创建账号；若已有相同工号的档案则立即关联。
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	code := strings.TrimSpace(req.EmployeeCode)
	if code == "" {
		BadRequest(c, "employee code is required")
		return
	}

	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.String("username", req.Username), slog.String("employee_code", code))

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	user := database.User{
		Username:           req.Username,
		PasswordHash:       hashed,
		IsAdmin:            req.IsAdmin,
		MustChangePassword: true,
		EmployeeCode:       code,
	}

	errUsernameTaken := errors.New("username already taken")
	errCodeHasAccount := errors.New("employee code already has an account")

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&database.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errUsernameTaken
		}
		if err := tx.Model(&database.User{}).Where("employee_code = ?", code).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errCodeHasAccount
		}

		var profile database.Profile
		err := tx.Where("employee_code = ?", code).First(&profile).Error
		switch {
		case err == nil:
			var linked int64
			if err := tx.Model(&database.User{}).Where("profile_id = ?", profile.ID).Count(&linked).Error; err != nil {
				return err
			}
			if linked > 0 {
				return errCodeHasAccount
			}
			user.ProfileID = &profile.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(&user).Error
	})
	switch {
	case errors.Is(err, errUsernameTaken), errors.Is(err, errCodeHasAccount):
		log.Info("create user conflict", slog.String("reason", err.Error()))
		Conflict(c, err.Error())
		return
	case err != nil:
		log.Error("create user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	log.Info("user created by admin", slog.Uint64("user_id", uint64(user.ID)), slog.Bool("linked", user.ProfileID != nil))
	c.JSON(http.StatusCreated, userResponse{
		ID:                 user.ID,
		Username:           user.Username,
		EmployeeCode:       user.EmployeeCode,
		IsAdmin:            user.IsAdmin,
		MustChangePassword: user.MustChangePassword,
		ProfileID:          user.ProfileID,
	})
}
