package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"staffHub/internal/database"
	"staffHub/internal/errcode"
)

var (
	errAlreadyOnboarded = errcode.Conflicting("profile already linked to this account")
	errProfileClaimed   = errcode.Conflicting("profile already linked to another account")
	errClaimMismatch    = errcode.Unauthorized("employee code does not match this account")
)

// OnboardingHandler 处理员工自助建档。
type OnboardingHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewOnboardingHandler(db *gorm.DB, logger *slog.Logger) *OnboardingHandler {
	return &OnboardingHandler{db: db, logger: logger}
}

// Status 返回当前账号是否还需要建档。
func (h *OnboardingHandler) Status(c *gin.Context) {
	log := loggerFor(c, h.logger)
	req, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return
	}
	if req.Profile == nil {
		c.JSON(http.StatusOK, gin.H{"needs_onboarding": !req.IsAdmin})
		return
	}
	profile, err := loadProfile(c.Request.Context(), h.db, req.Profile.ID)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"needs_onboarding": false, "profile": newProfileResponse(*profile, req.IsAdmin)})
}

// Submit 认领工号匹配的档案，或新建档案并关联当前账号，二者均在同一事务中完成。
func (h *OnboardingHandler) Submit(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	edus, err := buildEducations(req.Educations)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	certs, err := buildCertifications(req.Certifications)
	if err != nil {
		RespondError(c, log, err)
		return
	}

	var profile database.Profile
	claimed := false
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user database.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		if user.ProfileID != nil {
			return errAlreadyOnboarded
		}

		code := strings.TrimSpace(req.EmployeeCode)
		if code != "" {
			err := tx.Where("employee_code = ?", code).First(&profile).Error
			switch {
			case err == nil:
				if err := claimProfile(tx, &user, &profile, req.Email); err != nil {
					return err
				}
				claimed = true
				return replaceContact(tx, &profile, req, edus, certs)
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		if err := applyProfileRequest(&profile, req); err != nil {
			return err
		}
		// 员工自助建档不能设置薪资与备注。
		profile.Salary = 0
		profile.Notes = ""
		if err := createProfile(tx, &profile, edus, certs); err != nil {
			return err
		}
		return tx.Model(&user).Update("profile_id", profile.ID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortUnauthorized(c)
			return
		}
		RespondError(c, log, err)
		return
	}

	full, err := loadProfile(ctx, h.db, profile.ID)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	log.Info("onboarding completed", slog.Uint64("profile_id", uint64(profile.ID)), slog.Bool("claimed", claimed))
	status := http.StatusCreated
	if claimed {
		status = http.StatusOK
	}
	c.JSON(status, newProfileResponse(*full, false))
}

// claimProfile 校验认领资格：管理员登记的工号一致，或邮箱与档案一致。
func claimProfile(tx *gorm.DB, user *database.User, profile *database.Profile, email string) error {
	var linked int64
	if err := tx.Model(&database.User{}).Where("profile_id = ?", profile.ID).Count(&linked).Error; err != nil {
		return err
	}
	if linked > 0 {
		return errProfileClaimed
	}
	codeMatches := user.EmployeeCode != "" && user.EmployeeCode == profile.Code()
	emailMatches := strings.EqualFold(strings.TrimSpace(email), profile.Email)
	if !codeMatches && !emailMatches {
		return errClaimMismatch
	}
	return tx.Model(user).Update("profile_id", profile.ID).Error
}

func replaceContact(tx *gorm.DB, profile *database.Profile, req profileRequest, edus []database.Education, certs []database.Certification) error {
	updates := map[string]any{}
	if v := strings.TrimSpace(req.Phone); v != "" {
		updates["phone"] = v
	}
	if req.CurrentAddress != "" {
		updates["current_address"] = req.CurrentAddress
	}
	if req.PermanentAddress != "" {
		updates["permanent_address"] = req.PermanentAddress
	}
	if len(updates) > 0 {
		if err := tx.Model(profile).Updates(updates).Error; err != nil {
			return err
		}
	}
	if len(edus) == 0 && len(certs) == 0 {
		return nil
	}
	return replaceSubRecords(tx, profile.ID, edus, certs)
}

// Update 允许员工修改联系方式与子记录。
func (h *OnboardingHandler) Update(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	log := loggerFor(c, h.logger)
	requester, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return
	}
	if requester.Profile == nil {
		NotFound(c, "profile not found, complete onboarding first")
		return
	}

	edus, err := buildEducations(req.Educations)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	certs, err := buildCertifications(req.Certifications)
	if err != nil {
		RespondError(c, log, err)
		return
	}

	ctx := c.Request.Context()
	profile := requester.Profile
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{}
		if req.Phone != nil {
			updates["phone"] = strings.TrimSpace(*req.Phone)
		}
		if req.CurrentAddress != nil {
			updates["current_address"] = *req.CurrentAddress
		}
		if req.PermanentAddress != nil {
			updates["permanent_address"] = *req.PermanentAddress
		}
		if len(updates) > 0 {
			if err := tx.Model(profile).Updates(updates).Error; err != nil {
				return err
			}
		}
		if req.Educations == nil && req.Certifications == nil {
			return nil
		}
		return replaceSubRecords(tx, profile.ID, edus, certs)
	})
	if err != nil {
		RespondError(c, log, err)
		return
	}

	full, err := loadProfile(ctx, h.db, profile.ID)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	log.Info("profile contact updated", slog.Uint64("profile_id", uint64(profile.ID)))
	c.JSON(http.StatusOK, newProfileResponse(*full, false))
}
