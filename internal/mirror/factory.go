package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"staffHub/internal/config"
	"staffHub/internal/storage"
)

const defaultInitTimeout = 30 * time.Second

// New 按 cfg.Mirror.Backend 构造镜像。drive 的凭据文件不存在时
// 退回 Disabled。
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Mirror.Timeout
	initTimeout := timeout
	if initTimeout <= 0 {
		initTimeout = defaultInitTimeout
	}

	switch cfg.Mirror.Backend {
	case config.MirrorMinIO:
		client, err := storage.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init minio mirror: %w", err)
		}
		initCtx, cancel := context.WithTimeout(ctx, initTimeout)
		defer cancel()
		b, err := newMinIOBackend(initCtx, client, cfg.Mirror.RootFolder, cfg.Mirror.DownloadURLExpiry)
		if err != nil {
			return nil, fmt.Errorf("init minio mirror: %w", err)
		}
		logger.Info("remote mirror enabled", slog.String("backend", "minio"), slog.String("bucket", client.Bucket()))
		return newGuarded(b, timeout, logger), nil

	case config.MirrorDrive:
		if _, err := os.Stat(cfg.Drive.CredentialsFile); errors.Is(err, fs.ErrNotExist) {
			logger.Warn("drive credentials not found, remote mirror disabled",
				slog.String("credentials_file", cfg.Drive.CredentialsFile))
			return Disabled{}, nil
		}
		b, err := newDriveBackend(ctx, cfg.Drive.CredentialsFile, cfg.Mirror.RootFolder, initTimeout)
		if err != nil {
			return nil, fmt.Errorf("init drive mirror: %w", err)
		}
		logger.Info("remote mirror enabled", slog.String("backend", "drive"), slog.String("root_folder_id", b.root))
		return newGuarded(b, timeout, logger), nil

	case config.MirrorMemory:
		logger.Warn("remote mirror kept in memory, files are lost on restart", slog.String("backend", "memory"))
		m := NewMemory(cfg.Mirror.RootFolder)
		m.guarded = newGuarded(m.mem, timeout, logger)
		return m, nil

	default:
		return Disabled{}, nil
	}
}
