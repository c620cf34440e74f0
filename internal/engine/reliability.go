package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-pacer/internal/connectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityConfig — настройки глобального лимитера и предохранителя коннектора
type ReliabilityConfig struct {
	Name        string
	GlobalRPS   float64
	GlobalBurst int
	CallTimeout time.Duration

	CBMaxRequests         uint32
	CBInterval            time.Duration
	CBTimeout             time.Duration
	CBConsecutiveFailures uint32
}

func (c *ReliabilityConfig) withDefaults() {
	if c.Name == "" {
		c.Name = "browser-connector"
	}
	if c.GlobalRPS <= 0 {
		c.GlobalRPS = 100
	}
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = 20
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 3
	}
	if c.CBInterval <= 0 {
		c.CBInterval = 5 * time.Second
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.CBConsecutiveFailures == 0 {
		c.CBConsecutiveFailures = 5
	}
}

// ReliabilityWrapper защищает процесс от неисправного коннектора.
// Темп по домену задает Pacer, здесь только общий потолок и предохранитель.
// Повторы сюда не входят: каждый повтор обязан снова пройти через CheckAndWait.
type ReliabilityWrapper struct {
	next    connectors.Executor
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewReliabilityWrapper(next connectors.Executor, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.CBConsecutiveFailures
		},
		// 429 от сайта — это штатный сигнал темпа, коннектор исправен
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, throttled := connectors.IsSiteThrottle(err)
			return throttled
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("executor", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		timeout: cfg.CallTimeout,
	}
}

func (w *ReliabilityWrapper) Call(ctx context.Context, action connectors.Action) ([]byte, error) {
	// 1. Глобальный лимитер процесса
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker + таймаут одного вызова
	res, err := w.cb.Execute(func() (interface{}, error) {
		tCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		return w.next.Call(tCtx, action)
	})
	if err != nil {
		return nil, err
	}
	data, _ := res.([]byte)
	return data, nil
}

// State — текущее состояние предохранителя
func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}
