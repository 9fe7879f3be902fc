package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/models"
)

// JobHistory keeps bounded lists of finished jobs.
type JobHistory interface {
	Record(ctx context.Context, record models.JobRecord) error
	Recent(ctx context.Context, outcome models.JobOutcome, limit int64) ([]models.JobRecord, error)
}

// listClient is the subset of *redis.Client used for retention lists.
type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

type retention struct {
	keep   int64
	maxAge time.Duration
}

type redisJobHistory struct {
	client    listClient
	prefix    string
	retention map[models.JobOutcome]retention
	logger    zerolog.Logger
}

func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.ConnectionTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

func NewJobHistory(client listClient, cfg config.RedisConfig, logger zerolog.Logger) JobHistory {
	return &redisJobHistory{
		client: client,
		prefix: cfg.HistoryKeyPrefix,
		retention: map[models.JobOutcome]retention{
			models.JobOutcomeCompleted: {keep: cfg.CompletedKeep, maxAge: cfg.CompletedMaxAge},
			models.JobOutcomeFailed:    {keep: cfg.FailedKeep, maxAge: cfg.FailedMaxAge},
		},
		logger: logger,
	}
}

func (h *redisJobHistory) key(outcome models.JobOutcome) string {
	return fmt.Sprintf("%s:%s", h.prefix, outcome)
}

func (h *redisJobHistory) Record(ctx context.Context, record models.JobRecord) error {
	ret, ok := h.retention[record.Outcome]
	if !ok {
		return fmt.Errorf("unknown job outcome %q", record.Outcome)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	key := h.key(record.Outcome)

	if err := h.client.LPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("failed to push job record: %w", err)
	}
	// Prune by count, then by age: the list expires when nothing new arrives within maxAge.
	if ret.keep > 0 {
		if err := h.client.LTrim(ctx, key, 0, ret.keep-1).Err(); err != nil {
			return fmt.Errorf("failed to trim job history: %w", err)
		}
	}
	if ret.maxAge > 0 {
		if err := h.client.Expire(ctx, key, ret.maxAge).Err(); err != nil {
			return fmt.Errorf("failed to set job history expiry: %w", err)
		}
	}

	return nil
}

func (h *redisJobHistory) Recent(ctx context.Context, outcome models.JobOutcome, limit int64) ([]models.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	values, err := h.client.LRange(ctx, h.key(outcome), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job history: %w", err)
	}

	records := make([]models.JobRecord, 0, len(values))
	for _, v := range values {
		var rec models.JobRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			h.logger.Warn().Err(err).Msg("Skipping malformed job history entry")
			continue
		}
		if ret, ok := h.retention[outcome]; ok && ret.maxAge > 0 && time.Since(rec.FinishedAt) > ret.maxAge {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
