package database

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"staffHub/internal/placement"
)

// Migrate 按顺序执行数据库迁移。空库直接建全部表。
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202401010000_initial",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(AllModels()...)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&Document{}, &Certification{}, &Education{}, &User{}, &Profile{}, &Department{},
				)
			},
		},
		{
			// 旧数据没有 storage_key，按创建时的命名规则回填一次。
			ID: "202401020000_storage_key_backfill",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Profile{}); err != nil {
					return err
				}
				var profiles []Profile
				if err := tx.Where("storage_key = '' OR storage_key IS NULL").Find(&profiles).Error; err != nil {
					return err
				}
				for _, p := range profiles {
					code := p.Code()
					if code == "" {
						code = fmt.Sprintf("ID%d", p.ID)
					}
					key, err := ReserveStorageKey(tx, placement.StorageKey(code, p.FirstName, p.LastName))
					if err != nil {
						return err
					}
					if err := tx.Model(&Profile{}).Where("id = ?", p.ID).Update("storage_key", key).Error; err != nil {
						return fmt.Errorf("backfill profile %d: %w", p.ID, err)
					}
				}
				return nil
			},
		},
		{
			// 清洗后相同的目录名会让两个档案共用文件，先去重再加唯一索引。
			ID: "202401030000_storage_key_unique",
			Migrate: func(tx *gorm.DB) error {
				if err := dedupeStorageKeys(tx); err != nil {
					return err
				}
				return createStorageKeyIndex(tx)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS " + storageKeyIndex).Error
			},
		},
	})

	m.InitSchema(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(AllModels()...); err != nil {
			return err
		}
		return createStorageKeyIndex(tx)
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
