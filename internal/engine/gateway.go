package engine

/*
Файл gateway.go — диспетчер действий агента.
Домен -> CheckAndWait -> исполнение через ReliabilityWrapper.
Ограничение со стороны сайта взводит cooldown через RecordError,
а каждый повтор снова проходит допуск с Retry=true и расходует бюджет.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-pacer/internal/audit"
	"github.com/xela07ax/spaceai-pacer/internal/connectors"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"go.uber.org/zap"
)

// ErrDenied — действие не допущено политикой темпа (причина в Decision.Reason)
var ErrDenied = errors.New("action denied by pacing policy")

const DefaultMaxAttempts = 5

// ActionRequest — действие агента, пришедшее в шлюз
type ActionRequest struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id"`
	Action    string `json:"action"` // navigate | click | fill
	Target    string `json:"target"`
	Selector  string `json:"selector,omitempty"`
	Value     string `json:"value,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// ActionResult — итог диспетчеризации
type ActionResult struct {
	ActionID string          `json:"action_id"`
	Domain   string          `json:"domain"`
	Decision domain.Decision `json:"decision"`
	WaitedMs int64           `json:"waited_ms"` // Суммарно по всем попыткам
	Attempts uint            `json:"attempts"`
	Response json.RawMessage `json:"response,omitempty"`
}

// SensitivityClassifier дополняет разметку чувствительных действий клиента
type SensitivityClassifier interface {
	IsSensitive(action, selector, domain string) bool
}

type Gateway struct {
	pacer       *Pacer
	executor    connectors.Executor
	classifier  SensitivityClassifier
	auditor     audit.Auditor
	logger      *zap.Logger
	maxAttempts uint
	baseDelay   time.Duration
}

type GatewayOption func(*Gateway)

func WithMaxAttempts(n uint) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBaseDelay — стартовая задержка экспоненциального бэкоффа для не-throttle ошибок
func WithBaseDelay(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.baseDelay = d }
}

func WithClassifier(c SensitivityClassifier) GatewayOption {
	return func(g *Gateway) { g.classifier = c }
}

func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

func NewGateway(p *Pacer, exec connectors.Executor, auditor audit.Auditor, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		pacer:       p,
		executor:    exec,
		auditor:     auditor,
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("gateway")
	return g
}

// Execute проводит действие через допуск и исполнитель.
// При отказе возвращает результат с Decision и ошибку, оборачивающую ErrDenied.
func (g *Gateway) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	dom := DomainFromTarget(req.Target)
	res := ActionResult{ActionID: req.ID, Domain: dom}
	sensitive := req.Sensitive
	if !sensitive && g.classifier != nil {
		sensitive = g.classifier.IsSensitive(req.Action, req.Selector, dom)
	}

	action := connectors.Action{
		ID:        req.ID,
		SessionID: req.SessionID,
		Kind:      req.Action,
		Target:    req.Target,
		Selector:  req.Selector,
		Value:     req.Value,
	}

	var waited time.Duration
	var lastErr error

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(g.maxAttempts),
		retry.Delay(g.baseDelay),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Cooldown отсидит следующий CheckAndWait, здесь ждем только остаток Retry-After
			if tErr, ok := connectors.IsSiteThrottle(err); ok {
				extra := tErr.RetryAfter - g.pacer.GetSessionPolicy(req.SessionID).CooldownAfterError
				if extra < 0 {
					return 0
				}
				return extra
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	err := r.Do(func() error {
		res.Attempts++
		dec := g.pacer.CheckAndWait(ctx, Check{
			SessionID: req.SessionID,
			Domain:    dom,
			Action:    req.Action,
			ActionID:  req.ID,
			Sensitive: sensitive,
			Retry:     res.Attempts > 1,
		}, g.auditor)
		waited += dec.Waited
		res.Decision = dec

		if !dec.Allowed {
			lastErr = fmt.Errorf("%w: %s", ErrDenied, dec.Reason)
			return retry.Unrecoverable(lastErr)
		}

		resp, callErr := g.executor.Call(ctx, action)
		if callErr == nil {
			lastErr = nil
			res.Response = resp
			return nil
		}
		lastErr = callErr

		if _, throttled := connectors.IsSiteThrottle(callErr); throttled {
			g.pacer.RecordError(ctx, req.SessionID, dom, g.auditor)
			return callErr
		}
		if errors.Is(callErr, gobreaker.ErrOpenState) || errors.Is(callErr, gobreaker.ErrTooManyRequests) {
			return retry.Unrecoverable(callErr)
		}
		return callErr
	})

	res.WaitedMs = waited.Milliseconds()
	if err == nil {
		return res, nil
	}
	if cErr := ctx.Err(); cErr != nil || lastErr == nil {
		// Контекст отменили между попытками
		lastErr = err
	}

	g.logger.Info("action not completed",
		zap.String("session_id", req.SessionID),
		zap.String("domain", dom),
		zap.String("action_id", req.ID),
		zap.Uint("attempts", res.Attempts),
		zap.Error(lastErr))
	return res, lastErr
}
