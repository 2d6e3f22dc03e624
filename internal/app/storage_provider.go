package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/imran1337/solid-prediction/internal/platform/gcp"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/minio"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
	"github.com/imran1337/solid-prediction/internal/platform/s3"
)

type storeConstructor func(ctx context.Context, log *logger.Logger, cfg objstore.Config) (objstore.Store, func() error, error)

var (
	newGCSStore storeConstructor = func(ctx context.Context, log *logger.Logger, cfg objstore.Config) (objstore.Store, func() error, error) {
		b, err := gcp.NewBucket(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	newMinIOStore storeConstructor = func(ctx context.Context, log *logger.Logger, cfg objstore.Config) (objstore.Store, func() error, error) {
		s, err := minio.New(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	newS3Store storeConstructor = func(ctx context.Context, log *logger.Logger, cfg objstore.Config) (objstore.Store, func() error, error) {
		s, err := s3.New(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
)

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorInvalidConfig       StorageProviderBootstrapErrorCode = "invalid_config"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveStore builds the object store for cfg.Mode. The returned close
// func is never nil.
func resolveStore(ctx context.Context, log *logger.Logger, cfg objstore.Config) (objstore.Store, func() error, error) {
	var ctor storeConstructor
	switch cfg.Mode {
	case objstore.ModeGCS, objstore.ModeGCSEmulator:
		ctor = newGCSStore
	case objstore.ModeMinIO:
		ctor = newMinIOStore
	case objstore.ModeS3:
		ctor = newS3Store
	default:
		err := &StorageProviderBootstrapError{
			Code:         StorageProviderBootstrapErrorInvalidMode,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        fmt.Errorf("unsupported object storage mode %q", cfg.Mode),
		}
		log.Error("Object storage provider selection failed", "mode", cfg.Mode, "error_code", err.Code, "error", err)
		return nil, nil, err
	}

	log.Info(
		"Selecting object storage provider",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"compatibility_fallback", cfg.CompatibilityFallback,
		"emulator_host", cfg.EmulatorHost,
		"bucket", cfg.Bucket,
	)

	store, closeFn, err := ctor(ctx, log, cfg)
	if err != nil {
		classified := classifyStorageProviderBootstrapError(cfg, err)
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", cfg.Mode,
			"mode_source", cfg.ModeSource(),
			"emulator_host", cfg.EmulatorHost,
			"error_code", storageProviderBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, nil, classified
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return store, closeFn, nil
}

func classifyStorageProviderBootstrapError(cfg objstore.Config, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *objstore.ConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case objstore.ConfigErrorInvalidMode:
			code = StorageProviderBootstrapErrorInvalidMode
		case objstore.ConfigErrorMissingEmulatorHost:
			code = StorageProviderBootstrapErrorMissingEmulatorHost
		case objstore.ConfigErrorInvalidEmulatorHost:
			code = StorageProviderBootstrapErrorInvalidEmulatorHost
		default:
			code = StorageProviderBootstrapErrorInvalidConfig
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         string(cfg.Mode),
		EmulatorHost: cfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
