package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"staffHub/internal/access"
	"staffHub/internal/api/middleware"
	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/tasks"
)

const maxSearchResults = 50

// ProfileHandler 提供员工档案、部门与仪表盘接口。
type ProfileHandler struct {
	db     *gorm.DB
	docs   *documents.Service
	gate   *access.Gate
	queue  documents.Enqueuer
	logger *slog.Logger
}

func NewProfileHandler(db *gorm.DB, docs *documents.Service, gate *access.Gate, queue documents.Enqueuer, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{db: db, docs: docs, gate: gate, queue: queue, logger: logger}
}

// ListProfiles 返回全部档案，可按 ?department= 过滤。
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	log := loggerFor(c, h.logger)
	q := h.db.WithContext(c.Request.Context()).Order("last_name, first_name, id")
	if dept := strings.TrimSpace(c.Query("department")); dept != "" {
		q = q.Where("department = ?", dept)
	}
	var profiles []database.Profile
	if err := q.Find(&profiles).Error; err != nil {
		log.Error("list profiles failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, h.summaries(c, profiles))
}

func (h *ProfileHandler) summaries(c *gin.Context, profiles []database.Profile) []profileResponse {
	admin := isAdminFromContext(c)
	out := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newProfileResponse(p, admin))
	}
	return out
}

// GetProfile 返回单个档案；本人或管理员还能看到文件列表。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		BadRequest(c, "invalid profile id")
		return
	}
	log := loggerFor(c, h.logger)
	req, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return
	}

	profile, err := loadProfile(c.Request.Context(), h.db, id)
	if err != nil {
		RespondError(c, log, err)
		return
	}

	resp := newProfileResponse(*profile, req.IsAdmin)
	if h.gate.AuthorizeProfile(req, profile.ID).Allowed {
		docs, err := h.docs.List(c.Request.Context(), profile.ID)
		if err != nil {
			RespondError(c, log, err)
			return
		}
		resp.Documents = docs
	}
	c.JSON(http.StatusOK, resp)
}

// CreateProfile 由管理员创建档案，并关联工号相同且尚未关联的账号。
func (h *ProfileHandler) CreateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	log := loggerFor(c, h.logger)

	var profile database.Profile
	if err := applyProfileRequest(&profile, req); err != nil {
		RespondError(c, log, err)
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

	err = h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := createProfile(tx, &profile, edus, certs); err != nil {
			return err
		}
		if profile.EmployeeCode == nil {
			return nil
		}
		return tx.Model(&database.User{}).
			Where("employee_code = ? AND profile_id IS NULL", *profile.EmployeeCode).
			Update("profile_id", profile.ID).Error
	})
	if err != nil {
		RespondError(c, log, err)
		return
	}

	log.Info("profile created", slog.Uint64("profile_id", uint64(profile.ID)), slog.String("storage_key", profile.StorageKey))
	c.JSON(http.StatusCreated, newProfileResponse(profile, true))
}

// UpdateProfile 由管理员修改档案，子记录整体替换。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		BadRequest(c, "invalid profile id")
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.Uint64("profile_id", uint64(id)))

	profile, err := loadProfile(ctx, h.db, id)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	if err := applyProfileRequest(profile, req); err != nil {
		RespondError(c, log, err)
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

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureProfileUnique(tx, profile, profile.ID); err != nil {
			return err
		}
		if err := tx.Model(profile).Select(
			"employee_code", "first_name", "last_name", "email", "phone", "department", "position",
			"hire_date", "current_address", "permanent_address", "salary", "notes",
		).Updates(profile).Error; err != nil {
			return err
		}
		return replaceSubRecords(tx, profile.ID, edus, certs)
	})
	if err != nil {
		RespondError(c, log, err)
		return
	}

	updated, err := loadProfile(ctx, h.db, id)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	log.Info("profile updated")
	c.JSON(http.StatusOK, newProfileResponse(*updated, true))
}

// DeleteProfile 删除档案及其子记录，文件由后台任务清理。
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		BadRequest(c, "invalid profile id")
		return
	}
	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.Uint64("profile_id", uint64(id)))

	var profile database.Profile
	var remoteIDs []string
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&profile, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&database.Document{}).
			Where("profile_id = ? AND remote_id <> ''", id).
			Pluck("remote_id", &remoteIDs).Error; err != nil {
			return err
		}
		if profile.RemoteProfilePictureID != "" {
			remoteIDs = append(remoteIDs, profile.RemoteProfilePictureID)
		}
		return tx.Unscoped().Delete(&profile).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		log.Error("delete profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	log.Info("profile deleted", slog.String("storage_key", profile.StorageKey))

	var warnings []string
	if h.queue != nil {
		userID, _ := userIDFromContext(c)
		task, err := tasks.NewPurgeProfileTask(tasks.PurgeProfilePayload{
			ProfileID:      profile.ID,
			StorageKey:     profile.StorageKey,
			RemoteFolderID: profile.RemoteFolderID,
			RemoteIDs:      remoteIDs,
			UserID:         userID,
			CorrelationID:  middleware.GetCorrelationID(c),
		})
		if err == nil {
			_, err = h.queue.EnqueueContext(ctx, task)
		}
		if err != nil {
			log.Warn("enqueue purge failed", slog.Any("error", err))
			warnings = append(warnings, "stored files will not be removed automatically")
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "warnings": warnings})
}

// SearchProfiles 按姓名或职位做不区分大小写的子串匹配。
func (h *ProfileHandler) SearchProfiles(c *gin.Context) {
	query := strings.ToLower(strings.TrimSpace(c.Query("query")))
	if query == "" {
		c.JSON(http.StatusOK, []profileResponse{})
		return
	}
	log := loggerFor(c, h.logger)
	pattern := "%" + escapeLike(query) + "%"

	var profiles []database.Profile
	if err := h.db.WithContext(c.Request.Context()).
		Where("LOWER(first_name) LIKE ? ESCAPE '\\' OR LOWER(last_name) LIKE ? ESCAPE '\\' OR LOWER(position) LIKE ? ESCAPE '\\'", pattern, pattern, pattern).
		Order("last_name, first_name, id").
		Limit(maxSearchResults).
		Find(&profiles).Error; err != nil {
		log.Error("search profiles failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, h.summaries(c, profiles))
}

// Positions 返回职位自动补全候选。
func (h *ProfileHandler) Positions(c *gin.Context) {
	log := loggerFor(c, h.logger)
	q := h.db.WithContext(c.Request.Context()).Model(&database.Profile{}).
		Where("position <> ''").
		Distinct("position").
		Order("position").
		Limit(maxSearchResults)
	if term := strings.ToLower(strings.TrimSpace(c.Query("q"))); term != "" {
		q = q.Where("LOWER(position) LIKE ? ESCAPE '\\'", "%"+escapeLike(term)+"%")
	}
	positions := []string{}
	if err := q.Pluck("position", &positions).Error; err != nil {
		log.Error("list positions failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, positions)
}

type departmentCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// departmentCounts 合并部门表与档案中出现过的部门。
func (h *ProfileHandler) departmentCounts(c *gin.Context) ([]departmentCount, int64, error) {
	ctx := c.Request.Context()
	var rows []departmentCount
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).
		Select("department AS name, COUNT(*) AS count").
		Where("department <> ''").
		Group("department").
		Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	var names []string
	if err := h.db.WithContext(ctx).Model(&database.Department{}).Pluck("name", &names).Error; err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(rows)+len(names))
	for _, n := range names {
		counts[n] = 0
	}
	for _, r := range rows {
		counts[r.Name] = r.Count
	}
	out := make([]departmentCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, departmentCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	var total int64
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListDepartments 返回部门及人数。
func (h *ProfileHandler) ListDepartments(c *gin.Context) {
	log := loggerFor(c, h.logger)
	depts, _, err := h.departmentCounts(c)
	if err != nil {
		log.Error("list departments failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, depts)
}

type departmentRequest struct {
	Name string `json:"name" binding:"required,max=50"`
}

// CreateDepartment 新增部门，名称已存在时返回 409。
func (h *ProfileHandler) CreateDepartment(c *gin.Context) {
	var req departmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		BadRequest(c, "department name is required")
		return
	}
	ctx := c.Request.Context()
	log := loggerFor(c, h.logger).With(slog.String("department", name))

	var count int64
	if err := h.db.WithContext(ctx).Model(&database.Department{}).Where("name = ?", name).Count(&count).Error; err != nil {
		log.Error("lookup department failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if count == 0 {
		if err := h.db.WithContext(ctx).Model(&database.Profile{}).Where("department = ?", name).Count(&count).Error; err != nil {
			log.Error("lookup department failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
	}
	if count > 0 {
		Conflict(c, "department already exists")
		return
	}

	dept := database.Department{Name: name}
	if err := h.db.WithContext(ctx).Create(&dept).Error; err != nil {
		log.Error("create department failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	log.Info("department created")
	c.JSON(http.StatusCreated, departmentCount{Name: dept.Name})
}

// DepartmentProfiles 返回某部门的档案。
func (h *ProfileHandler) DepartmentProfiles(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		BadRequest(c, "department name is required")
		return
	}
	log := loggerFor(c, h.logger)
	var profiles []database.Profile
	if err := h.db.WithContext(c.Request.Context()).
		Where("department = ?", name).
		Order("last_name, first_name, id").
		Find(&profiles).Error; err != nil {
		log.Error("list department profiles failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, h.summaries(c, profiles))
}

// Dashboard 管理员看到部门统计，员工看到自己的档案。
func (h *ProfileHandler) Dashboard(c *gin.Context) {
	log := loggerFor(c, h.logger)
	req, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return
	}

	if req.IsAdmin {
		depts, total, err := h.departmentCounts(c)
		if err != nil {
			log.Error("dashboard counts failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"is_admin":        true,
			"total_employees": total,
			"departments":     depts,
			"mirror_backend":  h.docs.Mirror().Backend(),
		})
		return
	}

	if req.Profile == nil {
		c.JSON(http.StatusOK, gin.H{"is_admin": false, "needs_onboarding": true})
		return
	}
	profile, err := loadProfile(c.Request.Context(), h.db, req.Profile.ID)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	resp := newProfileResponse(*profile, false)
	docs, err := h.docs.List(c.Request.Context(), profile.ID)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	resp.Documents = docs
	c.JSON(http.StatusOK, gin.H{"is_admin": false, "needs_onboarding": false, "profile": resp})
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
