package domain

import "time"

// Имена профилей из фиксированного каталога
const (
	ProfileSafe       = "safe"
	ProfilePermissive = "permissive"
	ProfileDisabled   = "disabled"
)

// PolicyEvent — тип политического события, которое попадает в аудит и в Decision
type PolicyEvent string

const (
	EventNone     PolicyEvent = ""
	EventThrottle PolicyEvent = "throttle" // Действие задержано (min-interval, bulk limit, jitter)
	EventCooldown PolicyEvent = "cooldown" // Ожидание после ошибки сайта
	EventDeny     PolicyEvent = "deny"     // Действие отклонено политикой
	EventRetry    PolicyEvent = "retry"    // Израсходована попытка из retry-бюджета
)

// PolicyProfile — неизменяемый именованный набор параметров темпа.
// Инвариант: JitterMin <= JitterMax, все длительности >= 0.
type PolicyProfile struct {
	Name                  string        `json:"name"`
	DomainMinInterval     time.Duration `json:"domain_min_interval"`
	JitterMin             time.Duration `json:"jitter_min"`
	JitterMax             time.Duration `json:"jitter_max"`
	CooldownAfterError    time.Duration `json:"cooldown_after_error"`
	MaxRetriesPerDomain   uint          `json:"max_retries_per_domain"`
	MaxActionsPerMinute   uint          `json:"max_actions_per_minute"`
	AllowSensitiveActions bool          `json:"allow_sensitive_actions"`
}

// ProfileOverrides — частичная перезапись полей базового профиля.
// nil означает "оставить значение базы".
type ProfileOverrides struct {
	DomainMinInterval     *time.Duration `json:"domain_min_interval,omitempty"`
	JitterMin             *time.Duration `json:"jitter_min,omitempty"`
	JitterMax             *time.Duration `json:"jitter_max,omitempty"`
	CooldownAfterError    *time.Duration `json:"cooldown_after_error,omitempty"`
	MaxRetriesPerDomain   *uint          `json:"max_retries_per_domain,omitempty"`
	MaxActionsPerMinute   *uint          `json:"max_actions_per_minute,omitempty"`
	AllowSensitiveActions *bool          `json:"allow_sensitive_actions,omitempty"`
}

// Apply возвращает копию профиля с наложенными перезаписями (override побеждает поле за полем).
func (o *ProfileOverrides) Apply(base PolicyProfile) PolicyProfile {
	if o == nil {
		return base
	}
	p := base
	if o.DomainMinInterval != nil {
		p.DomainMinInterval = *o.DomainMinInterval
	}
	if o.JitterMin != nil {
		p.JitterMin = *o.JitterMin
	}
	if o.JitterMax != nil {
		p.JitterMax = *o.JitterMax
	}
	if o.CooldownAfterError != nil {
		p.CooldownAfterError = *o.CooldownAfterError
	}
	if o.MaxRetriesPerDomain != nil {
		p.MaxRetriesPerDomain = *o.MaxRetriesPerDomain
	}
	if o.MaxActionsPerMinute != nil {
		p.MaxActionsPerMinute = *o.MaxActionsPerMinute
	}
	if o.AllowSensitiveActions != nil {
		p.AllowSensitiveActions = *o.AllowSensitiveActions
	}
	return p
}

// Normalize приводит профиль к инварианту: отрицательные длительности обнуляются,
// перепутанные границы джиттера меняются местами. Возвращает true, если что-то исправлено.
func (p *PolicyProfile) Normalize() bool {
	fixed := false
	for _, d := range []*time.Duration{&p.DomainMinInterval, &p.JitterMin, &p.JitterMax, &p.CooldownAfterError} {
		if *d < 0 {
			*d = 0
			fixed = true
		}
	}
	if p.JitterMin > p.JitterMax {
		p.JitterMin, p.JitterMax = p.JitterMax, p.JitterMin
		fixed = true
	}
	return fixed
}

// Key — составная идентичность (сессия, домен), под которой хранится всё состояние темпа
type Key struct {
	SessionID string
	Domain    string
}

// Decision — результат проверки допуска действия.
// Reason заполнен тогда и только тогда, когда Allowed == false.
type Decision struct {
	Allowed     bool          `json:"allowed"`
	Waited      time.Duration `json:"-"`
	Reason      string        `json:"reason,omitempty"`
	PolicyEvent PolicyEvent   `json:"policy_event,omitempty"`
}

// WaitedMs — фактическое ожидание в миллисекундах (описательное поле)
func (d Decision) WaitedMs() int64 {
	return d.Waited.Milliseconds()
}
