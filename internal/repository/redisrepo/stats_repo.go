package redisrepo

/*
Файл stats_repo.go — счетчики политических событий в Redis.
Хэш на (сессия, минута): поле "<event>" и "<event>:<domain>".
Оркестратор читает их, чтобы видеть, какие сессии упираются в ограничения.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pacer/internal/audit"
	"github.com/xela07ax/spaceai-pacer/internal/infra"
)

type StatsRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

type StatsOption func(*StatsRepo)

func WithStatsTTL(d time.Duration) StatsOption {
	return func(s *StatsRepo) { s.ttl = d }
}

func NewStatsRepo(rdb *redis.Client, opts ...StatsOption) *StatsRepo {
	s := &StatsRepo{rdb: rdb, ttl: infra.RedisStatsTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteBatch реализует audit.StorageInterface
func (s *StatsRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if s == nil || s.rdb == nil || len(events) == 0 {
		return nil
	}

	incs := increments(events)
	pipe := s.rdb.Pipeline()
	for key, fields := range incs {
		for field, n := range fields {
			pipe.HIncrBy(ctx, key, field, n)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write policy stats: %w", err)
	}
	return nil
}

// SessionStats — счетчики сессии за минуту, в которую попадает at
func (s *StatsRepo) SessionStats(ctx context.Context, sessionID string, at time.Time) (map[string]string, error) {
	res, err := s.rdb.HGetAll(ctx, infra.GetStatsKey(sessionID, at)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read policy stats: %w", err)
	}
	return res, nil
}

// increments сворачивает пачку в инкременты по ключам, чтобы не гонять HIncrBy на каждое событие
func increments(events []audit.AuditEvent) map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for _, e := range events {
		if e.Action == "" {
			continue
		}
		key := infra.GetStatsKey(e.SessionID, e.Timestamp)
		fields, ok := out[key]
		if !ok {
			fields = make(map[string]int64)
			out[key] = fields
		}
		fields[e.Action]++
		if d, ok := e.Params["domain"].(string); ok && d != "" {
			fields[e.Action+":"+d]++
		}
	}
	return out
}
