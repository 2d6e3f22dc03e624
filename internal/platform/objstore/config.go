package objstore

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/imran1337/solid-prediction/internal/platform/envutil"
)

type Mode string

const (
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
	ModeMinIO       Mode = "minio"
	ModeS3          Mode = "s3"
)

type Config struct {
	Mode                  Mode
	Bucket                string
	EmulatorHost          string
	CompatibilityFallback bool

	// S3-compatible backends.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func IsSupportedMode(mode Mode) bool {
	switch mode {
	case ModeGCS, ModeGCSEmulator, ModeMinIO, ModeS3:
		return true
	default:
		return false
	}
}

func IsEmulatorMode(mode Mode) bool {
	return mode == ModeGCSEmulator
}

func (cfg Config) IsEmulatorMode() bool {
	return IsEmulatorMode(cfg.Mode)
}

func (cfg Config) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
	ConfigErrorMissingEndpoint     ConfigErrorCode = "missing_endpoint"
	ConfigErrorMissingCredentials  ConfigErrorCode = "missing_credentials"
)

type ConfigError struct {
	Code         ConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf(
			"invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q, %q, %q)",
			e.Mode, ModeGCS, ModeGCSEmulator, ModeMinIO, ModeS3,
		)
	case ConfigErrorMissingBucket:
		return "object storage requires OBJECT_STORAGE_BUCKET (or GOOGLE_CLOUD_BUCKET_ID / S3_BUCKET) to be set"
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ModeGCSEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf(
			"invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443",
			e.EmulatorHost,
		)
	case ConfigErrorMissingEndpoint:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires OBJECT_STORAGE_ENDPOINT to be set", e.Mode)
	case ConfigErrorMissingCredentials:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires OBJECT_STORAGE_ACCESS_KEY and OBJECT_STORAGE_SECRET_KEY", e.Mode)
	default:
		return "invalid object storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		Bucket:       firstNonEmpty(os.Getenv("OBJECT_STORAGE_BUCKET"), os.Getenv("GOOGLE_CLOUD_BUCKET_ID"), os.Getenv("S3_BUCKET")),
		EmulatorHost: strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")),
		Endpoint:     envutil.String("OBJECT_STORAGE_ENDPOINT", ""),
		Region:       envutil.String("OBJECT_STORAGE_REGION", "us-east-1"),
		AccessKey:    envutil.String("OBJECT_STORAGE_ACCESS_KEY", ""),
		SecretKey:    envutil.String("OBJECT_STORAGE_SECRET_KEY", ""),
		UseSSL:       envutil.Bool("OBJECT_STORAGE_USE_SSL", true),
	}

	rawMode := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	mode := Mode(strings.ToLower(rawMode))

	switch mode {
	case "":
		if cfg.EmulatorHost != "" {
			cfg.Mode = ModeGCSEmulator
			cfg.CompatibilityFallback = true
		} else {
			cfg.Mode = ModeGCS
		}
	case ModeGCS, ModeGCSEmulator, ModeMinIO, ModeS3:
		cfg.Mode = mode
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Mode: rawMode}
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if !IsSupportedMode(cfg.Mode) {
		return &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return &ConfigError{Code: ConfigErrorMissingBucket, Mode: string(cfg.Mode)}
	}
	switch cfg.Mode {
	case ModeGCSEmulator:
		if cfg.EmulatorHost == "" {
			return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
		}
		u, err := url.Parse(cfg.EmulatorHost)
		if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
			return &ConfigError{
				Code:         ConfigErrorInvalidEmulatorHost,
				Mode:         string(cfg.Mode),
				EmulatorHost: cfg.EmulatorHost,
				Cause:        err,
			}
		}
	case ModeMinIO:
		if cfg.Endpoint == "" {
			return &ConfigError{Code: ConfigErrorMissingEndpoint, Mode: string(cfg.Mode)}
		}
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return &ConfigError{Code: ConfigErrorMissingCredentials, Mode: string(cfg.Mode)}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
