package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/models"
)

const fileNameMetaKey = "Filename"

// ArtifactStore is the object cache for generated artifacts.
type ArtifactStore interface {
	// Get returns nil, nil when nothing is cached under key.
	Get(ctx context.Context, key string) (*models.Artifact, error)
	Put(ctx context.Context, key string, artifact *models.Artifact) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type minioArtifactStore struct {
	client *minio.Client
	bucket string
	region string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIOArtifactStore(cfg config.MinIOConfig, logger zerolog.Logger) (ArtifactStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &minioArtifactStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}

	// Не валим процесс, если MinIO ещё не поднялся: бакет будет создан при первом обращении.
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := store.waitBucket(ctx); err != nil {
		logger.Error().Err(err).
			Str("endpoint", cfg.Endpoint).
			Str("bucket", cfg.Bucket).
			Msg("MinIO not ready during startup; will retry on demand")
	}

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Bool("ssl", cfg.UseSSL).
		Msg("Connected to MinIO")

	return store, nil
}

// waitBucket retries ensureBucket until ctx expires. Used only at startup.
func (s *minioArtifactStore) waitBucket(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	for {
		err := s.ensureBucket(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("minio not ready: %w", err)
		}
		sleepCtx(ctx, backoff)
	}
}

func (s *minioArtifactStore) ensureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.bucketEnsured {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("Created new bucket")
	}

	s.bucketEnsured = true
	return nil
}

func (s *minioArtifactStore) Get(ctx context.Context, key string) (*models.Artifact, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	artifact := &models.Artifact{
		Content:     content,
		ContentType: info.ContentType,
		FileName:    metaValue(info.UserMetadata, fileNameMetaKey),
	}

	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Artifact read from cache")

	return artifact, nil
}

func (s *minioArtifactStore) Put(ctx context.Context, key string, artifact *models.Artifact) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = models.DefaultArtifactContentType
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if artifact.FileName != "" {
		opts.UserMetadata = map[string]string{fileNameMetaKey: artifact.FileName}
	}

	info, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(artifact.Content), int64(len(artifact.Content)), opts)
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Str("etag", info.ETag).
		Int("size", len(artifact.Content)).
		Msg("Artifact stored in cache")

	return nil
}

func (s *minioArtifactStore) Delete(ctx context.Context, key string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	// RemoveObject на отсутствующий ключ не возвращает ошибку.
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	s.logger.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Artifact removed from cache")
	return nil
}

func (s *minioArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// metaValue reads user metadata regardless of how the server canonicalised the key.
func metaValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) || strings.EqualFold(k, "X-Amz-Meta-"+key) {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
