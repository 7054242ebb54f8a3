package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mirror backends.
const (
	MirrorNone  = "none"
	MirrorMinIO = "minio"
	MirrorDrive = "drive"
	// MirrorMemory 仅保存在进程内存中，用于本地试跑，重启即丢失。
	MirrorMemory = "memory"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	CookieDomain   string   `mapstructure:"cookie_domain"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsToken   string   `mapstructure:"metrics_token"`
}

// LogConfig 控制日志级别与可选的滚动文件输出。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// AuthConfig 包含 JWT 密钥与登录防护参数。
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// DatabaseConfig contains connection options for PostgreSQL or the embedded SQLite driver.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Name       string `mapstructure:"name"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
	LogQueries bool   `mapstructure:"log_queries"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// UploadConfig 描述本地上传目录与文件类型白名单。
type UploadConfig struct {
	Root               string   `mapstructure:"root"`
	MaxBytes           int64    `mapstructure:"max_bytes"`
	ImageExtensions    []string `mapstructure:"image_extensions"`
	DocumentExtensions []string `mapstructure:"document_extensions"`
	ClamdAddr          string   `mapstructure:"clamd_addr"`
}

// MirrorConfig 控制远程镜像后端。
type MirrorConfig struct {
	Backend            string        `mapstructure:"backend"`
	RootFolder         string        `mapstructure:"root_folder"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MembershipFailOpen bool          `mapstructure:"membership_fail_open"`
	DownloadURLExpiry  time.Duration `mapstructure:"download_url_expiry"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// DriveConfig contains the Google Drive service-account settings.
type DriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

// WorkerConfig 控制后台任务处理。
type WorkerConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	ThumbnailSize int `mapstructure:"thumbnail_size"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Addr returns host:port for go-redis and asynq.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration from environment variables, optionally seeded by a .env file.
func Load() (*Config, error) {
	envFile := strings.TrimSpace(os.Getenv("STAFFHUB_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	normalize(&cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "staffhub")
	v.SetDefault("database.user", "staffhub")
	v.SetDefault("database.password", "staffhub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "employees.db")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("upload.root", "uploads")
	v.SetDefault("upload.max_bytes", 50*1024*1024)
	v.SetDefault("upload.image_extensions", []string{"jpg", "jpeg", "png", "gif"})
	v.SetDefault("upload.document_extensions", []string{"pdf", "doc", "docx", "jpg", "jpeg", "png"})
	v.SetDefault("mirror.backend", MirrorNone)
	v.SetDefault("mirror.root_folder", "Employee Management System")
	v.SetDefault("mirror.timeout", 30*time.Second)
	v.SetDefault("mirror.membership_fail_open", false)
	v.SetDefault("mirror.download_url_expiry", 15*time.Minute)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "staffhub")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("drive.credentials_file", "credentials/google-drive-credentials.json")
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.thumbnail_size", 256)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.cookie_domain":              "COOKIE_DOMAIN",
		"api.allowed_origins":            "WS_ALLOWED_ORIGINS",
		"api.metrics_token":              "METRICS_TOKEN",
		"log.level":                      "LOG_LEVEL",
		"log.file":                       "LOG_FILE",
		"log.max_size_mb":                "LOG_MAX_SIZE_MB",
		"log.max_backups":                "LOG_MAX_BACKUPS",
		"log.max_age_days":               "LOG_MAX_AGE_DAYS",
		"auth.private_key_path":          "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":           "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":          "ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":         "REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour": "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "LOGIN_LOCK_TTL",
		"database.driver":                "DATABASE_DRIVER",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"database.sqlite_path":           "SQLITE_PATH",
		"database.log_queries":           "DATABASE_LOG_QUERIES",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"redis.password":                 "REDIS_PASSWORD",
		"upload.root":                    "UPLOAD_ROOT",
		"upload.max_bytes":               "UPLOAD_MAX_BYTES",
		"upload.image_extensions":        "UPLOAD_IMAGE_EXTENSIONS",
		"upload.document_extensions":     "UPLOAD_DOCUMENT_EXTENSIONS",
		"upload.clamd_addr":              "CLAMD_ADDR",
		"mirror.backend":                 "MIRROR_BACKEND",
		"mirror.root_folder":             "MIRROR_ROOT_FOLDER",
		"mirror.timeout":                 "MIRROR_TIMEOUT",
		"mirror.membership_fail_open":    "MIRROR_MEMBERSHIP_FAIL_OPEN",
		"mirror.download_url_expiry":     "MIRROR_DOWNLOAD_URL_EXPIRY",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.bucket":                   "MINIO_BUCKET",
		"minio.region":                   "MINIO_REGION",
		"minio.bucket_lookup":            "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":       "MINIO_AUTO_CREATE_BUCKET",
		"drive.credentials_file":         "GOOGLE_DRIVE_CREDENTIALS_FILE",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.thumbnail_size":          "THUMBNAIL_SIZE",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// normalize 处理以逗号分隔的列表环境变量，并统一大小写。
func normalize(cfg *Config) {
	cfg.Upload.ImageExtensions = splitList(cfg.Upload.ImageExtensions)
	cfg.Upload.DocumentExtensions = splitList(cfg.Upload.DocumentExtensions)
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)
	for i, ext := range cfg.Upload.ImageExtensions {
		cfg.Upload.ImageExtensions[i] = strings.TrimPrefix(strings.ToLower(ext), ".")
	}
	for i, ext := range cfg.Upload.DocumentExtensions {
		cfg.Upload.DocumentExtensions[i] = strings.TrimPrefix(strings.ToLower(ext), ".")
	}
	cfg.Mirror.Backend = strings.ToLower(strings.TrimSpace(cfg.Mirror.Backend))
	if cfg.Mirror.Backend == "" {
		cfg.Mirror.Backend = MirrorNone
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.Upload.Root == "" {
		return errors.New("upload root is required")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload max bytes must be positive")
	}
	if len(cfg.Upload.ImageExtensions) == 0 {
		return errors.New("upload image extensions must not be empty")
	}
	if len(cfg.Upload.DocumentExtensions) == 0 {
		return errors.New("upload document extensions must not be empty")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}

	switch cfg.Mirror.Backend {
	case MirrorNone, MirrorMemory:
	case MirrorMinIO:
		if cfg.MinIO.Endpoint == "" {
			return errors.New("minio endpoint is required")
		}
		if cfg.MinIO.AccessKeyID == "" {
			return errors.New("minio access key id is required")
		}
		if cfg.MinIO.SecretAccessKey == "" {
			return errors.New("minio secret access key is required")
		}
		if cfg.MinIO.Bucket == "" {
			return errors.New("minio bucket is required")
		}
	case MirrorDrive:
		if cfg.Drive.CredentialsFile == "" {
			return errors.New("drive credentials file is required")
		}
	default:
		return fmt.Errorf("unknown mirror backend %q", cfg.Mirror.Backend)
	}
	if cfg.Mirror.Backend != MirrorNone && strings.TrimSpace(cfg.Mirror.RootFolder) == "" {
		return errors.New("mirror root folder is required")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	switch d.Driver {
	case "sqlite":
		if d.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if d.Name == "" {
		return errors.New("database name is required")
	}
	if d.User == "" {
		return errors.New("database user is required")
	}
	if d.Password == "" {
		return errors.New("database password is required")
	}
	if d.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	return nil
}
