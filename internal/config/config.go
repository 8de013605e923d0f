// Package config loads personactl's runtime configuration: the keystore
// base directory, digest algorithm, HSM binding, and ambient-stack
// settings (audit database path, metrics/tracing endpoints).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quantarax/keystore/internal/validation"
)

// Config holds personactl's runtime configuration.
type Config struct {
	BaseDir       string `yaml:"baseDir"`
	Digest        string `yaml:"digest"`
	RSABits       int    `yaml:"rsaBits"`
	ECCurve       string `yaml:"ecCurve"`
	DHBits        int    `yaml:"dhBits"`
	AuditDBPath   string `yaml:"auditDbPath"`
	MetricsAddr   string `yaml:"metricsAddr"`
	JaegerEnabled *bool  `yaml:"jaegerEnabled"`

	HSM HSMConfig `yaml:"hsm"`
}

// HSMConfig describes a PKCS#11 token binding. When Enabled is set,
// personactl requires a non-empty LibPath; it still builds the software
// provider in either case and does not construct an HSMProvider.
type HSMConfig struct {
	Enabled bool   `yaml:"enabled"`
	LibPath string `yaml:"libPath"`
	Slot    uint   `yaml:"slot"`
	PIN     string `yaml:"pin"`
}

// fileConfig mirrors Config but with pointer fields, so LoadFromPath can
// tell an explicit zero value in the file apart from an absent key.
type fileConfig struct {
	BaseDir       *string    `yaml:"baseDir"`
	Digest        *string    `yaml:"digest"`
	RSABits       *int       `yaml:"rsaBits"`
	ECCurve       *string    `yaml:"ecCurve"`
	DHBits        *int       `yaml:"dhBits"`
	AuditDBPath   *string    `yaml:"auditDbPath"`
	MetricsAddr   *string    `yaml:"metricsAddr"`
	JaegerEnabled *bool      `yaml:"jaegerEnabled"`
	HSM           *fileHSM   `yaml:"hsm"`
}

type fileHSM struct {
	Enabled *bool   `yaml:"enabled"`
	LibPath *string `yaml:"libPath"`
	Slot    *uint   `yaml:"slot"`
	PIN     *string `yaml:"pin"`
}

// DefaultConfig returns the configuration used when no file is found and
// no environment overrides are set.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".local", "share", "personactl", "keystore")

	return &Config{
		BaseDir:     baseDir,
		Digest:      "sha256",
		RSABits:     4096,
		ECCurve:     "P256",
		DHBits:      2048,
		AuditDBPath: filepath.Join(homeDir, ".local", "share", "personactl", "audit.db"),
		MetricsAddr: "127.0.0.1:9091",
	}
}

// LoadFromPath loads configuration from configPath, or from a small set
// of conventional candidates if configPath is empty, falling back to
// DefaultConfig if none parse. Environment overrides are applied last.
func LoadFromPath(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "personactl.yaml", filepath.Join("configs", "personactl.yaml"))
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			if configPath != "" {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			continue
		}
		merge(cfg, &parsed)
		break
	}

	applyEnvOverrides(cfg)

	if err := validation.ValidateDigestName(cfg.Digest); err != nil {
		return nil, err
	}
	if err := validation.ValidateFilePath(cfg.BaseDir, false); err != nil {
		return nil, err
	}
	if err := validation.ValidateRangeInt(cfg.RSABits, 2048, 8192); err != nil {
		return nil, fmt.Errorf("rsaBits: %w", err)
	}
	if err := validation.ValidateRangeInt(cfg.DHBits, 256, 8192); err != nil {
		return nil, fmt.Errorf("dhBits: %w", err)
	}
	if err := validation.ValidateAddr(cfg.MetricsAddr); err != nil {
		return nil, fmt.Errorf("metricsAddr: %w", err)
	}
	return cfg, nil
}

func merge(dst *Config, src *fileConfig) {
	if src.BaseDir != nil {
		dst.BaseDir = *src.BaseDir
	}
	if src.Digest != nil {
		dst.Digest = *src.Digest
	}
	if src.RSABits != nil {
		dst.RSABits = *src.RSABits
	}
	if src.ECCurve != nil {
		dst.ECCurve = *src.ECCurve
	}
	if src.DHBits != nil {
		dst.DHBits = *src.DHBits
	}
	if src.AuditDBPath != nil {
		dst.AuditDBPath = *src.AuditDBPath
	}
	if src.MetricsAddr != nil {
		dst.MetricsAddr = *src.MetricsAddr
	}
	if src.JaegerEnabled != nil {
		dst.JaegerEnabled = src.JaegerEnabled
	}
	if src.HSM != nil {
		if src.HSM.Enabled != nil {
			dst.HSM.Enabled = *src.HSM.Enabled
		}
		if src.HSM.LibPath != nil {
			dst.HSM.LibPath = *src.HSM.LibPath
		}
		if src.HSM.Slot != nil {
			dst.HSM.Slot = *src.HSM.Slot
		}
		if src.HSM.PIN != nil {
			dst.HSM.PIN = *src.HSM.PIN
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PERSONACTL_BASE_DIR")); v != "" {
		cfg.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("PERSONACTL_DIGEST")); v != "" {
		cfg.Digest = v
	}
	if v := strings.TrimSpace(os.Getenv("PERSONACTL_HSM_PIN")); v != "" {
		cfg.HSM.PIN = v
	}
	if v := strings.TrimSpace(os.Getenv("PERSONACTL_HSM_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HSM.Enabled = b
		}
	}
}
