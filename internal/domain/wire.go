package domain

import (
	"errors"
	"fmt"
	"time"
)

// Внешний формат (HTTP, Redis): длительности в миллисекундах

// OverridesMs — перезаписи профиля в том виде, в каком их присылают клиенты
type OverridesMs struct {
	DomainMinIntervalMs   *int64 `json:"domain_min_interval_ms,omitempty"`
	JitterMinMs           *int64 `json:"jitter_min_ms,omitempty"`
	JitterMaxMs           *int64 `json:"jitter_max_ms,omitempty"`
	CooldownAfterErrorMs  *int64 `json:"cooldown_after_error_ms,omitempty"`
	MaxRetriesPerDomain   *uint  `json:"max_retries_per_domain,omitempty"`
	MaxActionsPerMinute   *uint  `json:"max_actions_per_minute,omitempty"`
	AllowSensitiveActions *bool  `json:"allow_sensitive_actions,omitempty"`
}

// MaxDurationMs — самое большое значение в мс, которое помещается в time.Duration
const MaxDurationMs = int64(1<<63-1) / int64(time.Millisecond)

var ErrDurationOutOfRange = errors.New("duration out of range")

// Validate отсекает значения, которые переполнят time.Duration при переводе из мс.
// Отрицательные сюда не входят: их обнуляет Normalize.
func (o *OverridesMs) Validate() error {
	if o == nil {
		return nil
	}
	fields := []struct {
		name string
		v    *int64
	}{
		{"domain_min_interval_ms", o.DomainMinIntervalMs},
		{"jitter_min_ms", o.JitterMinMs},
		{"jitter_max_ms", o.JitterMaxMs},
		{"cooldown_after_error_ms", o.CooldownAfterErrorMs},
	}
	var errs []error
	for _, f := range fields {
		if f.v != nil && (*f.v > MaxDurationMs || *f.v < -MaxDurationMs) {
			errs = append(errs, fmt.Errorf("%w: %s=%d exceeds %d", ErrDurationOutOfRange, f.name, *f.v, MaxDurationMs))
		}
	}
	return errors.Join(errs...)
}

func msPtr(v *int64) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * time.Millisecond
	return &d
}

// Overrides переводит в внутреннее представление; nil на входе — nil на выходе
func (o *OverridesMs) Overrides() *ProfileOverrides {
	if o == nil {
		return nil
	}
	return &ProfileOverrides{
		DomainMinInterval:     msPtr(o.DomainMinIntervalMs),
		JitterMin:             msPtr(o.JitterMinMs),
		JitterMax:             msPtr(o.JitterMaxMs),
		CooldownAfterError:    msPtr(o.CooldownAfterErrorMs),
		MaxRetriesPerDomain:   o.MaxRetriesPerDomain,
		MaxActionsPerMinute:   o.MaxActionsPerMinute,
		AllowSensitiveActions: o.AllowSensitiveActions,
	}
}

// ProfileView — профиль для отдачи наружу
type ProfileView struct {
	Name                  string `json:"name"`
	DomainMinIntervalMs   int64  `json:"domain_min_interval_ms"`
	JitterMinMs           int64  `json:"jitter_min_ms"`
	JitterMaxMs           int64  `json:"jitter_max_ms"`
	CooldownAfterErrorMs  int64  `json:"cooldown_after_error_ms"`
	MaxRetriesPerDomain   uint   `json:"max_retries_per_domain"`
	MaxActionsPerMinute   uint   `json:"max_actions_per_minute"`
	AllowSensitiveActions bool   `json:"allow_sensitive_actions"`
}

func (p PolicyProfile) View() ProfileView {
	return ProfileView{
		Name:                  p.Name,
		DomainMinIntervalMs:   p.DomainMinInterval.Milliseconds(),
		JitterMinMs:           p.JitterMin.Milliseconds(),
		JitterMaxMs:           p.JitterMax.Milliseconds(),
		CooldownAfterErrorMs:  p.CooldownAfterError.Milliseconds(),
		MaxRetriesPerDomain:   p.MaxRetriesPerDomain,
		MaxActionsPerMinute:   p.MaxActionsPerMinute,
		AllowSensitiveActions: p.AllowSensitiveActions,
	}
}
