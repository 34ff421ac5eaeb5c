package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	WhatsApp WhatsAppConfig
	Dispatch DispatchConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// WhatsAppConfig carries the Cloud API credentials. It is injected explicitly
// into the provider client and the webhook handler, never read from the
// environment past startup.
type WhatsAppConfig struct {
	AccessToken      string
	PhoneNumberID    string
	VerifyToken      string
	APIVersion       string
	TemplateLanguage string
	Timeout          time.Duration
}

// DispatchConfig bounds the per-recipient retry policy. The provider does not
// document its rate-limit behavior, so all three knobs are tunable.
type DispatchConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type StorageConfig struct {
	UploadDir string
	MediaDir  string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	accessToken, err := requireEnv("WHATSAPP_ACCESS_TOKEN")
	if err != nil {
		errs = append(errs, err)
	}
	phoneNumberID, err := requireEnv("WHATSAPP_PHONE_NUMBER_ID")
	if err != nil {
		errs = append(errs, err)
	}
	verifyToken, err := requireEnv("WHATSAPP_VERIFY_TOKEN")
	if err != nil {
		errs = append(errs, err)
	}

	timeoutSec, err := getEnvInt("WHATSAPP_TIMEOUT_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}
	maxAttempts, err := getEnvInt("DISPATCH_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	}
	backoffBaseMs, err := getEnvInt("DISPATCH_BACKOFF_BASE_MS", 500)
	if err != nil {
		errs = append(errs, err)
	}
	backoffCapMs, err := getEnvInt("DISPATCH_BACKOFF_CAP_MS", 8000)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:      accessToken,
			PhoneNumberID:    phoneNumberID,
			VerifyToken:      verifyToken,
			APIVersion:       getEnv("WHATSAPP_API_VERSION", "v17.0"),
			TemplateLanguage: getEnv("WHATSAPP_TEMPLATE_LANGUAGE", "en_US"),
			Timeout:          time.Duration(timeoutSec) * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxAttempts: maxAttempts,
			BackoffBase: time.Duration(backoffBaseMs) * time.Millisecond,
			BackoffCap:  time.Duration(backoffCapMs) * time.Millisecond,
		},
		Storage: StorageConfig{
			UploadDir: getEnv("UPLOAD_DIR", "uploads"),
			MediaDir:  getEnv("MEDIA_DIR", "media"),
		},
		Redis: redisCfg,
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSec, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSec) * time.Second,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Dispatch.BackoffBase < 0 {
		errs = append(errs, errors.New("DISPATCH_BACKOFF_BASE_MS must be >= 0"))
	}
	if cfg.Dispatch.BackoffCap < cfg.Dispatch.BackoffBase {
		errs = append(errs, errors.New("DISPATCH_BACKOFF_CAP_MS must be >= DISPATCH_BACKOFF_BASE_MS"))
	}
	if cfg.WhatsApp.Timeout <= 0 {
		errs = append(errs, errors.New("WHATSAPP_TIMEOUT_SECONDS must be > 0"))
	}
	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
