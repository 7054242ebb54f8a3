package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"staffHub/internal/auth"
	"staffHub/internal/config"
	"staffHub/internal/database"
)

func main() {
	var (
		username = flag.String("username", "", "管理员用户名（必填）")
		code     = flag.String("employee-code", "", "关联的员工工号（可选，档案存在时直接关联）")
		reset    = flag.Bool("reset", false, "用户已存在时重置为随机密码并要求改密")
		driver   = flag.String("db-driver", "", "覆盖 DATABASE_DRIVER：postgres 或 sqlite")
		dsnPath  = flag.String("sqlite-path", "", "覆盖 SQLITE_PATH")
		dbHost   = flag.String("db-host", "", "覆盖 DATABASE_HOST")
		dbName   = flag.String("db-name", "", "覆盖 POSTGRES_DB")
	)
	flag.Parse()

	u := strings.TrimSpace(*username)
	if u == "" {
		log.Fatal("missing required flag: --username")
	}

	// 其余连接参数沿用环境变量与 .env。
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	overrideDatabase(&cfg.Database, *driver, *dsnPath, *dbHost, *dbName)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	created, err := upsertAdmin(db, u, hashed, strings.TrimSpace(*code), *reset)
	if err != nil {
		log.Fatal(err)
	}

	if created {
		fmt.Printf("已创建管理员账号（首次登录需强制改密）：\n")
	} else {
		fmt.Printf("已重置管理员密码（下次登录需强制改密）：\n")
	}
	fmt.Printf("用户名: %s\n", u)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：该密码仅显示一次。\n")
}

// upsertAdmin 创建管理员；用户已存在时仅在 reset 为真时重置密码。
func upsertAdmin(db *gorm.DB, username, hashed, code string, reset bool) (created bool, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var user database.User
		switch err := tx.Where("username = ?", username).First(&user).Error; {
		case err == nil:
			if !reset {
				return fmt.Errorf("user %q already exists (use --reset to reset its password)", username)
			}
			return tx.Model(&user).Updates(map[string]any{
				"password_hash":        hashed,
				"is_admin":             true,
				"must_change_password": true,
			}).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("query user: %w", err)
		}

		user = database.User{
			Username:           username,
			PasswordHash:       hashed,
			IsAdmin:            true,
			MustChangePassword: true,
			EmployeeCode:       code,
		}
		if code != "" {
			var profile database.Profile
			err := tx.Where("employee_code = ?", code).First(&profile).Error
			switch {
			case err == nil:
				user.ProfileID = &profile.ID
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("query profile: %w", err)
			}
		}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func overrideDatabase(d *config.DatabaseConfig, driver, sqlitePath, host, name string) {
	if v := strings.ToLower(strings.TrimSpace(driver)); v != "" {
		d.Driver = v
	}
	if v := strings.TrimSpace(sqlitePath); v != "" {
		d.SQLitePath = v
	}
	if v := strings.TrimSpace(host); v != "" {
		d.Host = v
	}
	if v := strings.TrimSpace(name); v != "" {
		d.Name = v
	}
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
