package api

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"staffHub/internal/database"
	"staffHub/internal/errcode"
	"staffHub/internal/placement"
)

var (
	errEmailTaken = errcode.Conflicting("email already exists")
	errCodeTaken  = errcode.Conflicting("employee code already exists")
)

// ensureProfileUnique 检查邮箱与工号唯一，excludeID 为正在更新的档案。
func ensureProfileUnique(tx *gorm.DB, p *database.Profile, excludeID uint) error {
	var count int64
	q := tx.Model(&database.Profile{}).Where("email = ?", p.Email)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errEmailTaken
	}
	if p.EmployeeCode == nil {
		return nil
	}
	q = tx.Model(&database.Profile{}).Where("employee_code = ?", *p.EmployeeCode)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errCodeTaken
	}
	return nil
}

// createProfile 在事务中插入档案及其子记录，并生成存储目录名。
func createProfile(tx *gorm.DB, p *database.Profile, edus []database.Education, certs []database.Certification) error {
	if err := ensureProfileUnique(tx, p, 0); err != nil {
		return err
	}
	if p.StorageKey == "" {
		key, err := database.ReserveStorageKey(tx, placement.NewStorageKey(p.Code(), p.FirstName, p.LastName))
		if err != nil {
			return err
		}
		p.StorageKey = key
	}
	p.Educations = edus
	p.Certifications = certs
	if err := tx.Create(p).Error; err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// replaceSubRecords 整体替换教育经历与证书。
func replaceSubRecords(tx *gorm.DB, profileID uint, edus []database.Education, certs []database.Certification) error {
	if err := tx.Unscoped().Where("profile_id = ?", profileID).Delete(&database.Education{}).Error; err != nil {
		return fmt.Errorf("delete educations: %w", err)
	}
	if err := tx.Unscoped().Where("profile_id = ?", profileID).Delete(&database.Certification{}).Error; err != nil {
		return fmt.Errorf("delete certifications: %w", err)
	}
	for i := range edus {
		edus[i].ProfileID = profileID
	}
	for i := range certs {
		certs[i].ProfileID = profileID
	}
	if len(edus) > 0 {
		if err := tx.Create(&edus).Error; err != nil {
			return fmt.Errorf("create educations: %w", err)
		}
	}
	if len(certs) > 0 {
		if err := tx.Create(&certs).Error; err != nil {
			return fmt.Errorf("create certifications: %w", err)
		}
	}
	return nil
}

// loadProfile 读取档案及其子记录。
func loadProfile(ctx context.Context, db *gorm.DB, id uint) (*database.Profile, error) {
	var p database.Profile
	err := db.WithContext(ctx).
		Preload("Educations", func(db *gorm.DB) *gorm.DB { return db.Order("start_date DESC, id") }).
		Preload("Certifications", func(db *gorm.DB) *gorm.DB { return db.Order("issue_date DESC, id") }).
		First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("profile not found")
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &p, nil
}
