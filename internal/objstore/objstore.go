// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objstore uploads task audio to S3-compatible storage and hands
// out presigned download URLs for the cloud ASR service.
package objstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
)

// Config mirrors config.ObjectStoreConfig.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
	PresignExpiry   time.Duration
	Retry           RetryConfig
}

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Store is an upload helper bound to one bucket.
type Store struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger zerolog.Logger
}

// New builds the client without touching the network.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fault.New(fault.KindInvalidInput, "objstore.new", "empty endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fault.New(fault.KindInvalidInput, "objstore.new", "empty bucket")
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		expiry: cfg.PresignExpiry,
		logger: log.WithComponent("objstore"),
	}, nil
}

// EnsureBucket creates the bucket if missing, retrying with backoff.
func (s *Store) EnsureBucket(ctx context.Context, retry RetryConfig) error {
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = time.Second
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 10 * time.Second
	}

	var lastErr error
	interval := retry.InitialInterval
	for attempt := range retry.MaxRetries {
		if lastErr = s.ensureBucket(ctx); lastErr == nil {
			return nil
		}
		if attempt == retry.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			interval = min(interval*2, retry.MaxInterval)
		}
	}
	return fault.Wrapf(fault.KindNetworkTransient, "objstore.ensure_bucket",
		fmt.Sprintf("after %d attempts", retry.MaxRetries), lastErr)
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload puts the local file under key and returns a presigned GET URL.
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fault.Wrapf(fault.KindNetworkTransient, "objstore.upload", key, err)
	}
	s.logger.Info().
		Str(log.FieldEvent, "objstore.uploaded").
		Str("key", key).
		Int64("bytes", info.Size).
		Msg("audio uploaded")
	return s.Presign(ctx, key)
}

// Presign returns a time-limited download URL for key.
func (s *Store) Presign(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", fault.Wrapf(fault.KindNetworkTransient, "objstore.presign", key, err)
	}
	return u.String(), nil
}

// Remove deletes an uploaded object. Missing objects are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// ObjectKey derives the object name for a task's audio file.
func ObjectKey(taskID, localPath string) string {
	base := strings.ToLower(filepath.Base(localPath))
	return path.Join("asr", taskID, base)
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
