package redisrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/spaceai-pacer/internal/audit"
)

func TestIncrements(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	events := []audit.AuditEvent{
		{SessionID: "s1", Action: "throttle", Params: map[string]any{"domain": "a.test"}, Timestamp: t0},
		{SessionID: "s1", Action: "throttle", Params: map[string]any{"domain": "b.test"}, Timestamp: t0.Add(20 * time.Second)},
		{SessionID: "s1", Action: "deny", Params: map[string]any{"domain": "a.test"}, Timestamp: t0.Add(time.Minute)},
		{SessionID: "s2", Action: "cooldown", Timestamp: t0},
		{SessionID: "s2", Timestamp: t0},
	}

	got := increments(events)

	assert.Equal(t, map[string]map[string]int64{
		"pacer:stats:s1:202601011200": {"throttle": 2, "throttle:a.test": 1, "throttle:b.test": 1},
		"pacer:stats:s1:202601011201": {"deny": 1, "deny:a.test": 1},
		"pacer:stats:s2:202601011200": {"cooldown": 1},
	}, got)
}

func TestWriteBatch_NilClientIsNoop(t *testing.T) {
	var s *StatsRepo
	assert.NoError(t, s.WriteBatch(context.Background(), []audit.AuditEvent{{Action: "deny"}}))
	assert.NoError(t, NewStatsRepo(nil).WriteBatch(context.Background(), []audit.AuditEvent{{Action: "deny"}}))
}
