// Package storage provides the key-addressed byte store the operator executor
// reads inputs from and writes outputs, metadata and execution states to.
//
// Supported backends:
// - File: local filesystem, for development and single-node deployments
// - S3: Amazon S3 or any S3-compatible endpoint
// - GCS: Google Cloud Storage
// - Redis: shared cache-backed storage for short-lived preview runs
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Common errors
var (
	ErrNotFound    = errors.New("storage: key not found")
	ErrInvalidKey  = errors.New("storage: invalid key")
	ErrUnsupported = errors.New("storage: unsupported backend")
)

// Storage is a uniform put/get/exists interface over byte blobs. Writes are
// key-addressed and last-writer-wins.
type Storage interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Type names a storage backend.
type Type string

const (
	TypeFile  Type = "file"
	TypeS3    Type = "s3"
	TypeGCS   Type = "gcs"
	TypeRedis Type = "redis"
)

// Config selects and configures a backend. Only the section matching Type is
// read.
type Config struct {
	Type  Type        `json:"type" yaml:"type" env:"TYPE" validate:"required,oneof=file s3 gcs redis"`
	File  FileConfig  `json:"file_config" yaml:"file" env:"FILE"`
	S3    S3Config    `json:"s3_config" yaml:"s3" env:"S3"`
	GCS   GCSConfig   `json:"gcs_config" yaml:"gcs" env:"GCS"`
	Redis RedisConfig `json:"redis_config" yaml:"redis" env:"REDIS"`
}

// FileConfig configures the local filesystem backend.
type FileConfig struct {
	Directory string `json:"directory" yaml:"directory" env:"DIRECTORY"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket             string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Region             string `json:"region" yaml:"region" env:"REGION"`
	Root               string `json:"root,omitempty" yaml:"root" env:"ROOT"`
	Endpoint           string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
	CredentialsPath    string `json:"credentials_path,omitempty" yaml:"credentials_path" env:"CREDENTIALS_PATH"`
	CredentialsProfile string `json:"credentials_profile,omitempty" yaml:"credentials_profile" env:"CREDENTIALS_PROFILE"`
	UsePathStyle       bool   `json:"use_path_style,omitempty" yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix" env:"PREFIX"`
	CredentialsPath string `json:"credentials_path,omitempty" yaml:"credentials_path" env:"CREDENTIALS_PATH"`
}

// New builds the backend selected by cfg.Type.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case TypeFile:
		return NewFileStorage(cfg.File, logger)
	case TypeS3:
		return NewS3Storage(ctx, cfg.S3, logger)
	case TypeGCS:
		return NewGCSStorage(ctx, cfg.GCS, logger)
	case TypeRedis:
		return NewRedisStorage(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, cfg.Type)
	}
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix + key
	}
	return prefix + "/" + key
}
