package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address, e.g. ":3000".
}

// DatabaseConfig holds the database DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // SQLite path or PostgreSQL DSN.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`       // logrus level name.
	File       string `yaml:"file"`        // Optional log file; rotated when set.
	MaxSizeMB  int    `yaml:"max-size-mb"` // Rotation threshold per file.
	MaxBackups int    `yaml:"max-backups"` // Rotated files to keep.
}

// JWTConfig holds admin token signing settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiry-hours"`
}

// Expiry returns the configured token lifetime.
func (c JWTConfig) Expiry() time.Duration {
	hours := c.ExpiryHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// RedisConfig holds optional redis cache settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // Empty disables the cache.
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AlipayConfig holds credentials for the real payment provider.
type AlipayConfig struct {
	AppID           string `yaml:"app-id"`
	PrivateKey      string `yaml:"private-key"`
	AlipayPublicKey string `yaml:"alipay-public-key"`
	Production      bool   `yaml:"production"`
}

// SimulatedConfig holds settings for the simulated payment provider.
type SimulatedConfig struct {
	Secret             string `yaml:"secret"`               // Callback signing secret.
	AutoSucceedSeconds int    `yaml:"auto-succeed-seconds"` // 0 disables auto success.
}

// PaymentConfig selects and configures the payment gateway.
type PaymentConfig struct {
	Mode      string          `yaml:"mode"` // "alipay" or "simulated".
	NotifyURL string          `yaml:"notify-url"`
	Alipay    AlipayConfig    `yaml:"alipay"`
	Simulated SimulatedConfig `yaml:"simulated"`
}

// Payment gateway modes.
const (
	// PaymentModeAlipay selects the real Alipay gateway.
	PaymentModeAlipay = "alipay"
	// PaymentModeSimulated selects the in-process simulated gateway.
	PaymentModeSimulated = "simulated"
)

// FilesConfig holds upload/download settings.
type FilesConfig struct {
	UploadDir string `yaml:"upload-dir"`
	MaxSizeMB int64  `yaml:"max-size-mb"`
}

// MaxSizeBytes returns the upload size cap in bytes.
func (c FilesConfig) MaxSizeBytes() int64 {
	size := c.MaxSizeMB
	if size <= 0 {
		size = 100
	}
	return size * 1024 * 1024
}

// AdminSeedConfig holds the initial administrator credentials.
type AdminSeedConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Log      LogConfig       `yaml:"log"`
	JWT      JWTConfig       `yaml:"jwt"`
	Redis    RedisConfig     `yaml:"redis"`
	Payment  PaymentConfig   `yaml:"payment"`
	Files    FilesConfig     `yaml:"files"`
	Admin    AdminSeedConfig `yaml:"admin"`
}

// Default returns a configuration with workable development values.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":3000"},
		Database: DatabaseConfig{DSN: "file:card_system.db"},
		Log:      LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 5},
		JWT:      JWTConfig{ExpiryHours: 24},
		Payment: PaymentConfig{
			Mode:      PaymentModeSimulated,
			Simulated: SimulatedConfig{Secret: "simulated-secret"},
		},
		Files: FilesConfig{UploadDir: "uploads", MaxSizeMB: 100},
	}
}

// Load reads configuration from a YAML file and applies environment
// overrides. A missing file yields defaults rather than an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		switch {
		case errRead == nil:
			if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case os.IsNotExist(errRead):
			// Defaults plus env overrides.
		default:
			return cfg, fmt.Errorf("config: read %s: %w", path, errRead)
		}
	}

	applyEnvOverrides(&cfg)

	if errValidate := cfg.validate(); errValidate != nil {
		return cfg, errValidate
	}
	return cfg, nil
}

// applyEnvOverrides overlays supported environment variables.
func applyEnvOverrides(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		cfg.Redis.Addr = addr
	}
	if secret := strings.TrimSpace(os.Getenv("JWT_SECRET")); secret != "" {
		cfg.JWT.Secret = secret
	}
}

// validate rejects configurations the server cannot start with.
func (c Config) validate() error {
	switch c.Payment.Mode {
	case PaymentModeAlipay, PaymentModeSimulated:
	default:
		return fmt.Errorf("config: unsupported payment mode: %s", c.Payment.Mode)
	}
	if c.Payment.Mode == PaymentModeAlipay {
		if strings.TrimSpace(c.Payment.Alipay.AppID) == "" {
			return fmt.Errorf("config: payment.alipay.app-id is required in alipay mode")
		}
		if strings.TrimSpace(c.Payment.Alipay.PrivateKey) == "" {
			return fmt.Errorf("config: payment.alipay.private-key is required in alipay mode")
		}
	}
	return nil
}
