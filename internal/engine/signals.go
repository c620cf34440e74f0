package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"github.com/xela07ax/spaceai-pacer/internal/infra"
	"github.com/xela07ax/spaceai-pacer/internal/policy"
	"go.uber.org/zap"
)

// PolicySignal — сообщение канала pacer:sessions:policy
type PolicySignal struct {
	SessionID string              `json:"session_id"`
	Profile   string              `json:"profile"`
	Overrides *domain.OverridesMs `json:"overrides,omitempty"`
}

func parsePolicySignal(payload string) (PolicySignal, error) {
	var s PolicySignal
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, fmt.Errorf("invalid policy signal: %w", err)
	}
	s.SessionID = strings.TrimSpace(s.SessionID)
	if s.SessionID == "" {
		return s, fmt.Errorf("invalid policy signal: session_id is required")
	}
	// Опечатка в сигнале не должна молча перевести сессию в safe
	if _, known := policy.Resolve(s.Profile); !known {
		return s, fmt.Errorf("invalid policy signal: unknown profile %q", s.Profile)
	}
	if err := s.Overrides.Validate(); err != nil {
		return s, fmt.Errorf("invalid policy signal: %w", err)
	}
	return s, nil
}

// ListenSignals подписывает движок на управляющие каналы Redis.
// Блокирует до отмены ctx, поэтому запускается в отдельной горутине.
// onClosed вызываются после ClearSession (например, закрыть браузер сессии).
func ListenSignals(ctx context.Context, rdb *redis.Client, logger *zap.Logger, p *Pacer, onClosed ...func(sessionID string)) {
	logger = logger.Named("signals")

	go ListenResilient(ctx, rdb, logger, infra.RedisChanSessionClosed, nil, func(payload string) {
		id := strings.TrimSpace(payload)
		if id == "" {
			logger.Warn("empty session id in close signal")
			return
		}
		p.ClearSession(id)
		for _, fn := range onClosed {
			fn(id)
		}
		logger.Info("session closed by signal", zap.String("session_id", id))
	})

	ListenResilient(ctx, rdb, logger, infra.RedisChanSessionPolicy, nil, func(payload string) {
		s, err := parsePolicySignal(payload)
		if err != nil {
			logger.Error("invalid signal format", zap.String("payload", payload), zap.Error(err))
			return
		}
		applied := p.SetSessionPolicy(s.SessionID, s.Profile, s.Overrides.Overrides())
		logger.Info("session policy updated by signal",
			zap.String("session_id", s.SessionID),
			zap.String("profile", applied.Name))
	})
}
