package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backends de almacenamiento soportados.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Ubicacion de los campos de rol en el payload de registro.
const (
	PlacementBase   = "base"
	PlacementByRole = "by_role"
)

// Config centraliza la configuración del cliente de onboarding y del stub.
type Config struct {
	PulseAPI            string        `env:"PULSE_API" envDefault:"http://localhost:8080"`
	OTPLength           int           `env:"OTP_LENGTH" envDefault:"6"`
	OTPResendDelay      int           `env:"OTP_RESEND_DELAY" envDefault:"60"`
	OTPChannel          string        `env:"OTP_CHANNEL" envDefault:"email"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	RoleFieldsPlacement string        `env:"ROLE_FIELDS_PLACEMENT" envDefault:"base"`

	StoreBackend          string `env:"STORE_BACKEND" envDefault:"file"`
	StorePath             string `env:"STORE_PATH" envDefault:".pulse/store.json"`
	SecureStorePath       string `env:"SECURE_STORE_PATH" envDefault:".pulse/secure.json"`
	SecureStorePassphrase string `env:"SECURE_STORE_PASSPHRASE"`
	SecureStoreSalt       string `env:"SECURE_STORE_SALT" envDefault:"pulse-onboard"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	DatabaseURL   string `env:"DATABASE_URL"`

	StubHTTPPort  string        `env:"STUB_HTTP_PORT" envDefault:"8080"`
	StubJWTSecret string        `env:"STUB_JWT_SECRET" envDefault:"dev-secret"`
	StubFixedOTP  string        `env:"STUB_FIXED_OTP"`
	StubTokenTTL  time.Duration `env:"STUB_TOKEN_TTL" envDefault:"24h"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.RoleFieldsPlacement = strings.ToLower(strings.TrimSpace(cfg.RoleFieldsPlacement))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa rangos y combinaciones que env no puede expresar.
func (c *Config) Validate() error {
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("%w: OTP_LENGTH must be between 4 and 10, got %d", ErrInvalidConfig, c.OTPLength)
	}
	if c.OTPResendDelay < 0 {
		return fmt.Errorf("%w: OTP_RESEND_DELAY must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.OTPChannel) == "" {
		return fmt.Errorf("%w: OTP_CHANNEL is empty", ErrInvalidConfig)
	}
	switch c.RoleFieldsPlacement {
	case PlacementBase, PlacementByRole:
	default:
		return fmt.Errorf("%w: unknown ROLE_FIELDS_PLACEMENT %q", ErrInvalidConfig, c.RoleFieldsPlacement)
	}
	return nil
}

// ValidateStore revisa el backend de sesion. Solo lo necesita el cliente;
// el stub no persiste sesiones.
func (c *Config) ValidateStore() error {
	switch c.StoreBackend {
	case StoreMemory:
		return nil
	case StoreFile:
		if c.StorePath == "" || c.SecureStorePath == "" {
			return fmt.Errorf("%w: STORE_PATH and SECURE_STORE_PATH are required for file store", ErrInvalidConfig)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for redis store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, c.StoreBackend)
	}
	if c.SecureStorePassphrase == "" {
		return fmt.Errorf("%w: SECURE_STORE_PASSPHRASE is required for persistent stores", ErrInvalidConfig)
	}
	return nil
}

// ResendDelay devuelve el delay de reenvio como duracion.
func (c *Config) ResendDelay() time.Duration {
	return time.Duration(c.OTPResendDelay) * time.Second
}
