package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
)

// ReportCache caches rendered attendance reports. Misses and backend
// failures are equivalent; callers always fall through to the database.
type ReportCache interface {
	GetClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, bool)
	SetClassReport(ctx context.Context, classID string, date time.Time, rows []models.AttendanceReportRow)
	InvalidateClassReport(ctx context.Context, classID string, date time.Time)
}

// NoopReportCache is used when caching is disabled.
type NoopReportCache struct{}

func (NoopReportCache) GetClassReport(context.Context, string, time.Time) ([]models.AttendanceReportRow, bool) {
	return nil, false
}
func (NoopReportCache) SetClassReport(context.Context, string, time.Time, []models.AttendanceReportRow) {
}
func (NoopReportCache) InvalidateClassReport(context.Context, string, time.Time) {}

// RedisReportCache stores reports as JSON blobs with a TTL.
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisReportCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisReportCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisReportCache{client: client, ttl: ttl, logger: logger}
}

func classReportKey(classID string, date time.Time) string {
	return fmt.Sprintf("report:attendance:%s:%s", classID, date.Format("2006-01-02"))
}

func (c *RedisReportCache) GetClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, bool) {
	payload, err := c.client.Get(ctx, classReportKey(classID, date)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("report cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var rows []models.AttendanceReportRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		c.logger.Warn("report cache payload corrupted", zap.Error(err))
		return nil, false
	}
	return rows, true
}

func (c *RedisReportCache) SetClassReport(ctx context.Context, classID string, date time.Time, rows []models.AttendanceReportRow) {
	payload, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn("report cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, classReportKey(classID, date), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("report cache write failed", zap.Error(err))
	}
}

func (c *RedisReportCache) InvalidateClassReport(ctx context.Context, classID string, date time.Time) {
	if err := c.client.Del(ctx, classReportKey(classID, date)).Err(); err != nil {
		c.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}
