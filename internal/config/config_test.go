package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromPath_Default(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Digest != "sha256" {
		t.Fatalf("expected default digest sha256, got %q", cfg.Digest)
	}
	if cfg.RSABits != 4096 {
		t.Fatalf("expected default RSA bits 4096, got %d", cfg.RSABits)
	}
}

func TestLoadFromPath_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personactl.yaml")
	yamlData := "baseDir: " + filepath.Join(dir, "keystore") + "\ndigest: sha3-256\nrsaBits: 2048\n"
	if err := os.WriteFile(path, []byte(yamlData), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Digest != "sha3-256" {
		t.Fatalf("expected sha3-256, got %q", cfg.Digest)
	}
	if cfg.RSABits != 2048 {
		t.Fatalf("expected 2048, got %d", cfg.RSABits)
	}
	if cfg.ECCurve != "P256" {
		t.Fatalf("expected default ECCurve to survive merge, got %q", cfg.ECCurve)
	}
}

func TestLoadFromPath_InvalidDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personactl.yaml")
	if err := os.WriteFile(path, []byte("digest: rot13\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected error for invalid digest name")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PERSONACTL_DIGEST", "sha3-256")
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Digest != "sha3-256" {
		t.Fatalf("expected env override to apply, got %q", cfg.Digest)
	}
}
