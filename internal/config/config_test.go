package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STAFFHUB_ENV_FILE", t.TempDir()+"/missing.env")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.API.Port)
	}
	if cfg.Mirror.Backend != MirrorNone {
		t.Fatalf("expected mirror disabled by default, got %q", cfg.Mirror.Backend)
	}
	if cfg.Mirror.MembershipFailOpen {
		t.Fatalf("membership checks must fail closed by default")
	}
	if cfg.Upload.MaxBytes != 50*1024*1024 {
		t.Fatalf("unexpected max bytes %d", cfg.Upload.MaxBytes)
	}
	if got := len(cfg.Upload.DocumentExtensions); got != 6 {
		t.Fatalf("expected 6 document extensions, got %d", got)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.Auth.AccessTokenTTL)
	}
}

func TestLoadParsesExtensionLists(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("UPLOAD_IMAGE_EXTENSIONS", ".PNG, webp")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"png", "webp"}
	if len(cfg.Upload.ImageExtensions) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Upload.ImageExtensions)
	}
	for i := range want {
		if cfg.Upload.ImageExtensions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.Upload.ImageExtensions)
		}
	}
}

func TestLoadRejectsIncompleteMinIO(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MIRROR_BACKEND", "minio")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when minio credentials are missing")
	}
}

func TestLoadAcceptsMemoryMirror(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MIRROR_BACKEND", "Memory")
	t.Setenv("MIRROR_ROOT_FOLDER", "staff")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mirror.Backend != MirrorMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Mirror.Backend)
	}
}

func TestLoadRejectsUnknownMirror(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MIRROR_BACKEND", "ftp")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestValidateDatabasePostgresRequiresHost(t *testing.T) {
	err := validateDatabase(DatabaseConfig{Driver: "postgres", Port: 5432, Name: "x", User: "x", Password: "x", SSLMode: "disable"})
	if err == nil {
		t.Fatalf("expected missing host error")
	}
}
