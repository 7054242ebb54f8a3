package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const storageKeyIndex = "idx_profiles_storage_key_unique"

// 旧数据回填前 storage_key 可能为空，空值不参与唯一约束。
func createStorageKeyIndex(tx *gorm.DB) error {
	return tx.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + storageKeyIndex + " ON profiles (storage_key) WHERE storage_key <> ''").Error
}

// ReserveStorageKey 返回尚未被占用的目录名。
// 不同工号清洗后可能得到同一个 base，此时依次追加 -2、-3 ……
func ReserveStorageKey(tx *gorm.DB, base string) (string, error) {
	if base == "" {
		return "", errors.New("empty storage key")
	}
	key := base
	for n := 2; ; n++ {
		var count int64
		if err := tx.Unscoped().Model(&Profile{}).Where("storage_key = ?", key).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check storage key: %w", err)
		}
		if count == 0 {
			return key, nil
		}
		key = fmt.Sprintf("%s-%d", base, n)
	}
}

// dedupeStorageKeys 为重复的 storage_key 追加后缀，保留 id 最小的一条。
func dedupeStorageKeys(tx *gorm.DB) error {
	var dups []string
	err := tx.Unscoped().Model(&Profile{}).
		Where("storage_key <> ''").
		Group("storage_key").
		Having("COUNT(*) > 1").
		Pluck("storage_key", &dups).Error
	if err != nil {
		return fmt.Errorf("find duplicate storage keys: %w", err)
	}
	for _, key := range dups {
		var ids []uint
		if err := tx.Unscoped().Model(&Profile{}).Where("storage_key = ?", key).Order("id").Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids[1:] {
			// 先清空，避免自身计入占用。
			if err := tx.Unscoped().Model(&Profile{}).Where("id = ?", id).Update("storage_key", "").Error; err != nil {
				return err
			}
			next, err := ReserveStorageKey(tx, key)
			if err != nil {
				return err
			}
			if err := tx.Unscoped().Model(&Profile{}).Where("id = ?", id).Update("storage_key", next).Error; err != nil {
				return fmt.Errorf("rename storage key of profile %d: %w", id, err)
			}
		}
	}
	return nil
}
