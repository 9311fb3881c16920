package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SECRET_KEY", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.ADB.PackageName != "com.linecorp.LGRGS" {
		t.Fatalf("unexpected default package: %s", cfg.ADB.PackageName)
	}
	if cfg.ADB.PrefFilename != "_LINE_COCOS_PREF_KEY.xml" {
		t.Fatalf("unexpected default pref file: %s", cfg.ADB.PrefFilename)
	}
	if len(cfg.ADB.EmulatorPorts) != 5 {
		t.Fatalf("expected 5 default emulator ports, got %d", len(cfg.ADB.EmulatorPorts))
	}
	if cfg.ADB.ServerAddr != "127.0.0.1:5037" {
		t.Fatalf("unexpected default adb server address: %s", cfg.ADB.ServerAddr)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.Auth.TokenTTL)
	}
	if cfg.Linker.QueueSize != 32 {
		t.Fatalf("expected default queue size 32, got %d", cfg.Linker.QueueSize)
	}
}

func TestLoadRequiresSecretKey(t *testing.T) {
	t.Setenv("SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without SECRET_KEY")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SECRET_KEY", "test-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ADB_PORTS", "5555;7555")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.ADB.EmulatorPorts) != 2 || cfg.ADB.EmulatorPorts[0] != 5555 {
		t.Fatalf("unexpected emulator ports: %v", cfg.ADB.EmulatorPorts)
	}
}

func TestYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 7070\nauth:\n  secret_key: from-yaml\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SECRET_KEY", "")
	t.Setenv("SERVER_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected yaml port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Auth.SecretKey != "from-yaml" {
		t.Fatalf("expected yaml secret, got %q", cfg.Auth.SecretKey)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.SecretKey = "x"
	cfg.Server.Port = 70000
	cfg.Linker.QueueSize = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
