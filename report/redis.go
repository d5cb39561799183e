package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ohlcvsync/config"
	"ohlcvsync/logger"
	"ohlcvsync/models"
)

// ErrReportNotFound is returned by Load when no report is stored.
var ErrReportNotFound = errors.New("run report not found")

// LastRun names the most recent report in Load.
const LastRun = "last"

// NewRedisClient connects and pings the configured Redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.GetLogger().WithComponent("report").WithField("addr", cfg.Addr).Info("redis connection successful")
	return rdb, nil
}

// RedisStore keeps each report under {key}:{run_id} and the newest one
// under {key}:last, both with a TTL.
type RedisStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = config.DefaultReportKey
	}
	if ttl <= 0 {
		ttl = config.DefaultReportTTL
	}
	return &RedisStore{rdb: rdb, key: key, ttl: ttl}
}

func (s *RedisStore) keyFor(runID string) string {
	return s.key + ":" + runID
}

func (s *RedisStore) Save(ctx context.Context, r models.RunReport) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keyFor(r.RunID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store run report %s: %w", r.RunID, err)
	}
	if err := s.rdb.Set(ctx, s.keyFor(LastRun), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store last run report: %w", err)
	}
	return nil
}

// Load returns the report for runID, or the newest one for LastRun.
func (s *RedisStore) Load(ctx context.Context, runID string) (models.RunReport, error) {
	if runID == "" {
		runID = LastRun
	}
	b, err := s.rdb.Get(ctx, s.keyFor(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RunReport{}, fmt.Errorf("%w: %s", ErrReportNotFound, runID)
	}
	if err != nil {
		return models.RunReport{}, fmt.Errorf("load run report %s: %w", runID, err)
	}

	var r models.RunReport
	if err := json.Unmarshal(b, &r); err != nil {
		return models.RunReport{}, fmt.Errorf("decode run report %s: %w", runID, err)
	}
	return r, nil
}
