package engine

/*
Файл pacer.go — ядро допуска действий агента к сайту (Admission Engine).

Для каждого ключа (сессия, домен) движок выполняет упорядоченный пайплайн:
fast path -> lazy sweep -> sensitive guardrail -> retry budget ->
cooldown -> bulk limit -> min interval -> jitter -> commit.
Запреты (шаги 3-4) выносятся до любых пауз, паузы (5-8) строго суммируются.
Вызовы одного ключа выполняются по очереди, разные ключи друг друга не ждут.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-pacer/internal/audit"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"github.com/xela07ax/spaceai-pacer/internal/policy"
	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultIdleTTL       = 30 * time.Minute
)

// Check — запрос на допуск одного действия
type Check struct {
	SessionID string
	Domain    string
	Action    string // Метка действия: navigate, click, fill ...
	ActionID  string // Если пусто — генерируется
	Sensitive bool   // Размечает вызывающий, движок не классифицирует
	Retry     bool
}

type Pacer struct {
	policies *policy.SessionStore
	table    *stateTable
	clock    Clock
	randN    randInt64N
	auditor  audit.Auditor // Приемник по умолчанию, если в вызов не передан свой
	metrics  *Metrics
	logger   *zap.Logger

	sweepInterval time.Duration
	idleTTL       time.Duration
	sweepMu       sync.Mutex
	lastSweep     time.Time
}

type PacerOption func(*Pacer)

func WithClock(c Clock) PacerOption {
	return func(p *Pacer) { p.clock = c }
}

func WithAuditor(a audit.Auditor) PacerOption {
	return func(p *Pacer) { p.auditor = a }
}

func WithMetrics(m *Metrics) PacerOption {
	return func(p *Pacer) { p.metrics = m }
}

func WithLogger(l *zap.Logger) PacerOption {
	return func(p *Pacer) { p.logger = l }
}

func WithSweep(interval, idleTTL time.Duration) PacerOption {
	return func(p *Pacer) {
		if interval > 0 {
			p.sweepInterval = interval
		}
		if idleTTL > 0 {
			p.idleTTL = idleTTL
		}
	}
}

func withRand(r randInt64N) PacerOption {
	return func(p *Pacer) { p.randN = r }
}

// NewPacer создает движок с процессным базовым профилем (safe, если имя неизвестно).
func NewPacer(baseProfile string, opts ...PacerOption) *Pacer {
	p := &Pacer{
		table:         newStateTable(),
		clock:         RealClock(),
		randN:         defaultRand,
		auditor:       audit.Nop{},
		logger:        zap.NewNop(),
		sweepInterval: DefaultSweepInterval,
		idleTTL:       DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.logger = p.logger.Named("pacer")
	p.policies = policy.NewSessionStore(baseProfile, p.logger)
	p.lastSweep = p.clock.Now()

	p.logger.Info("pacer initialized",
		zap.String("base_profile", p.policies.Base().Name),
		zap.Duration("sweep_interval", p.sweepInterval),
		zap.Duration("idle_ttl", p.idleTTL))
	return p
}

// SetSessionPolicy полностью заменяет профиль сессии: база + overrides.
func (p *Pacer) SetSessionPolicy(sessionID, profileName string, overrides *domain.ProfileOverrides) domain.PolicyProfile {
	return p.policies.Set(sessionID, profileName, overrides)
}

func (p *Pacer) GetSessionPolicy(sessionID string) domain.PolicyProfile {
	return p.policies.Get(sessionID)
}

// ResetSessionPolicy возвращает сессию к базовому профилю, состояние доменов не трогает
func (p *Pacer) ResetSessionPolicy(sessionID string) domain.PolicyProfile {
	p.policies.Delete(sessionID)
	return p.policies.Base()
}

// ClearSession удаляет перезапись и всё состояние доменов сессии.
// Обязателен при закрытии сессии: ограничивает память и гарантирует чистый старт при повторе ID.
func (p *Pacer) ClearSession(sessionID string) {
	p.policies.Delete(sessionID)
	removed := p.table.clearSession(sessionID)
	p.metrics.TrackedKeys.Set(float64(p.table.len()))
	p.logger.Debug("session cleared", zap.String("session_id", sessionID), zap.Int("keys", removed))
}

// TrackedKeys — число ключей в памяти
func (p *Pacer) TrackedKeys() int {
	return p.table.len()
}

// CheckAndWait решает судьбу действия и при необходимости приостанавливает вызывающего.
// Отказ выражается только через Decision. Начатая пауза не прерывается отменой ctx.
// auditor == nil означает приемник по умолчанию; на вызов уходит не больше одного события.
func (p *Pacer) CheckAndWait(ctx context.Context, c Check, auditor audit.Auditor) domain.Decision {
	profile := p.policies.Get(c.SessionID)

	// 1. Fast path: ни состояния, ни аудита
	if profile.Name == domain.ProfileDisabled {
		p.metrics.Decisions.WithLabelValues("allowed", profile.Name).Inc()
		return domain.Decision{Allowed: true}
	}

	// 2. Lazy sweep
	p.maybeSweep()

	rec := p.newRecord(ctx, c, profile)
	defer func() { rec.emit(p.sink(auditor)) }()

	// 3. Sensitive guardrail: без паузы и без мутаций
	if c.Sensitive && !profile.AllowSensitiveActions {
		reason := fmt.Sprintf("sensitive action %q is blocked by policy profile %q; "+
			"switch the session to a profile that allows sensitive actions (e.g. %s) "+
			"or override allow_sensitive_actions", c.Action, profile.Name, domain.ProfilePermissive)
		return p.deny(rec, profile, reason)
	}

	key := domain.Key{SessionID: c.SessionID, Domain: c.Domain}
	st, release := p.table.acquire(key, p.clock.Now())
	defer release()
	p.metrics.TrackedKeys.Set(float64(p.table.len()))

	// 4. Retry budget: инкремент не откатывается, даже если дальше будет только пауза
	if c.Retry {
		st.mu.Lock()
		used := st.retryCount
		if used >= profile.MaxRetriesPerDomain {
			st.mu.Unlock()
			reason := fmt.Sprintf("retry budget exhausted for %s: %d/%d", c.Domain, used, profile.MaxRetriesPerDomain)
			return p.deny(rec, profile, reason)
		}
		st.retryCount++
		used = st.retryCount
		st.mu.Unlock()
		rec.step(domain.EventRetry, "retry_attempt", 0)
		rec.params["retry_count"] = used
		rec.params["max_retries"] = profile.MaxRetriesPerDomain
	}

	var waited time.Duration

	// 5. Cooldown после ошибки сайта
	st.mu.Lock()
	d := cooldownRemaining(st.cooldownUntil, p.clock.Now())
	st.mu.Unlock()
	if d > 0 {
		rec.step(domain.EventCooldown, "cooldown_active", d)
		waited += p.suspend(d)
	}

	// 6. Bulk limit по окну 60 секунд
	st.mu.Lock()
	now := p.clock.Now()
	st.recentActions = pruneWindow(st.recentActions, now)
	d = bulkWait(st.recentActions, now, profile.MaxActionsPerMinute)
	inWindow := len(st.recentActions)
	st.mu.Unlock()
	if d > 0 {
		rec.step(domain.EventThrottle, "bulk_rate_limit", d)
		rec.params["actions_in_window"] = inWindow
		waited += p.suspend(d)
	}

	// 7. Минимальный интервал между действиями на домене
	st.mu.Lock()
	d = intervalRemaining(st.lastActionAt, p.clock.Now(), profile.DomainMinInterval)
	st.mu.Unlock()
	if d > 0 {
		rec.step(domain.EventThrottle, "min_interval", d)
		waited += p.suspend(d)
	}

	// 8. Jitter: отдельного события нет, входит в waited
	if d = jitterDelay(profile, p.randN); d > 0 {
		waited += p.suspend(d)
	}

	// 9. Commit
	st.mu.Lock()
	now = p.clock.Now()
	st.lastActionAt = now
	st.recentActions = appendOrdered(pruneWindow(st.recentActions, now), now)
	st.mu.Unlock()

	dec := domain.Decision{Allowed: true, Waited: waited}
	outcome := "allowed"
	if waited > 0 {
		dec.PolicyEvent = domain.EventThrottle
		outcome = string(domain.EventThrottle)
	}
	rec.params["wait_ms"] = waited.Milliseconds()

	p.metrics.Decisions.WithLabelValues(outcome, profile.Name).Inc()
	p.metrics.WaitDuration.WithLabelValues(profile.Name).Observe(waited.Seconds())
	return dec
}

// RecordError взводит cooldown после реальной ошибки сайта (rate limit, 429/503).
// Не трогает retryCount и окно. Для профиля с нулевым cooldown — no-op.
func (p *Pacer) RecordError(ctx context.Context, sessionID, domainName string, auditor audit.Auditor) {
	profile := p.policies.Get(sessionID)
	if profile.CooldownAfterError <= 0 {
		return
	}

	now := p.clock.Now()
	until := now.Add(profile.CooldownAfterError)
	key := domain.Key{SessionID: sessionID, Domain: domainName}
	p.table.update(key, now, func(st *domainState) {
		st.cooldownUntil = until
	})
	p.metrics.SiteErrors.Inc()
	p.metrics.TrackedKeys.Set(float64(p.table.len()))

	rec := p.newRecord(ctx, Check{SessionID: sessionID, Domain: domainName}, profile)
	rec.step(domain.EventCooldown, "error_recorded", profile.CooldownAfterError)
	rec.params["cooldown_until"] = until.UTC().Format(time.RFC3339Nano)
	rec.emit(p.sink(auditor))

	p.logger.Info("cooldown armed after site error",
		zap.String("session_id", sessionID),
		zap.String("domain", domainName),
		zap.Duration("cooldown", profile.CooldownAfterError))
}

func (p *Pacer) deny(rec *record, profile domain.PolicyProfile, reason string) domain.Decision {
	rec.step(domain.EventDeny, reason, 0)
	p.metrics.Decisions.WithLabelValues(string(domain.EventDeny), profile.Name).Inc()
	p.logger.Debug("action denied",
		zap.String("session_id", rec.sessionID),
		zap.String("reason", reason))
	return domain.Decision{Allowed: false, Reason: reason, PolicyEvent: domain.EventDeny}
}

// suspend — единственное место, где движок реально ждет
func (p *Pacer) suspend(d time.Duration) time.Duration {
	d = clamp(d)
	if d > 0 {
		p.clock.Sleep(d)
	}
	return d
}

// maybeSweep — амортизированная уборка: O(n) не чаще раза в sweepInterval
func (p *Pacer) maybeSweep() {
	now := p.clock.Now()

	p.sweepMu.Lock()
	if now.Sub(p.lastSweep) <= p.sweepInterval {
		p.sweepMu.Unlock()
		return
	}
	p.lastSweep = now
	p.sweepMu.Unlock()

	evicted := p.table.sweep(now, p.idleTTL)
	p.metrics.Evictions.Add(float64(evicted))
	p.metrics.TrackedKeys.Set(float64(p.table.len()))
	if evicted > 0 {
		p.logger.Debug("idle keys evicted", zap.Int("evicted", evicted))
	}
}

func (p *Pacer) sink(a audit.Auditor) audit.Auditor {
	if a != nil {
		return a
	}
	return p.auditor
}

// record копит шаги одного вызова и превращается максимум в одно событие аудита
type record struct {
	traceID   string
	sessionID string
	actionID  string
	profile   string
	event     domain.PolicyEvent
	reason    string
	params    map[string]any
	steps     []map[string]any
	at        time.Time
}

func (p *Pacer) newRecord(ctx context.Context, c Check, profile domain.PolicyProfile) *record {
	actionID := c.ActionID
	if actionID == "" {
		actionID = uuid.New().String()
	}
	params := map[string]any{"domain": c.Domain}
	if c.Action != "" {
		params["action"] = c.Action
	}
	return &record{
		traceID:   extractTraceID(ctx),
		sessionID: c.SessionID,
		actionID:  actionID,
		profile:   profile.Name,
		params:    params,
		at:        p.clock.Now(),
	}
}

// severity: при нескольких событиях за вызов в аудит идет самое серьезное
var severity = map[domain.PolicyEvent]int{
	domain.EventRetry:    1,
	domain.EventThrottle: 2,
	domain.EventCooldown: 3,
	domain.EventDeny:     4,
}

func (r *record) step(ev domain.PolicyEvent, reason string, wait time.Duration) {
	r.steps = append(r.steps, map[string]any{
		"event":   string(ev),
		"reason":  reason,
		"wait_ms": wait.Milliseconds(),
	})
	if severity[ev] > severity[r.event] {
		r.event = ev
		r.reason = reason
	}
}

func (r *record) emit(a audit.Auditor) {
	if r.event == domain.EventNone || a == nil {
		return
	}
	r.params["reason"] = r.reason
	r.params["steps"] = r.steps
	a.Log(audit.AuditEvent{
		ID:        uuid.New().String(),
		TraceID:   r.traceID,
		SessionID: r.sessionID,
		ActionID:  r.actionID,
		Type:      audit.TypePolicy,
		Action:    string(r.event),
		Params:    r.params,
		Result:    audit.Result{PolicyEvent: string(r.event), Profile: r.profile},
		Timestamp: r.at,
	})
	r.event = domain.EventNone // Второй emit ничего не отправит
}
