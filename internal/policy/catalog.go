package policy

/*
Файл catalog.go содержит фиксированный каталог профилей темпа.
Значения должны совпадать с таблицей поведения один в один:
агенты и внешние клиенты рассчитывают именно на эти паузы.
*/

import (
	"sort"
	"time"

	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

var profiles = map[string]domain.PolicyProfile{
	domain.ProfileSafe: {
		Name:                  domain.ProfileSafe,
		DomainMinInterval:     1500 * time.Millisecond,
		JitterMin:             300 * time.Millisecond,
		JitterMax:             800 * time.Millisecond,
		CooldownAfterError:    8000 * time.Millisecond,
		MaxRetriesPerDomain:   3,
		MaxActionsPerMinute:   8,
		AllowSensitiveActions: false,
	},
	domain.ProfilePermissive: {
		Name:                  domain.ProfilePermissive,
		DomainMinInterval:     200 * time.Millisecond,
		JitterMin:             0,
		JitterMax:             100 * time.Millisecond,
		CooldownAfterError:    1000 * time.Millisecond,
		MaxRetriesPerDomain:   10,
		MaxActionsPerMinute:   60,
		AllowSensitiveActions: true,
	},
	domain.ProfileDisabled: {
		Name:                  domain.ProfileDisabled,
		MaxRetriesPerDomain:   999,
		MaxActionsPerMinute:   9999,
		AllowSensitiveActions: true,
	},
}

// Resolve возвращает профиль по имени. Для неизвестного имени — safe и ok=false,
// чтобы вызывающий мог залогировать ошибку конфигурации. Никогда не падает.
func Resolve(name string) (domain.PolicyProfile, bool) {
	if p, ok := profiles[name]; ok {
		return p, true
	}
	return profiles[domain.ProfileSafe], false
}

// Profiles — все профили каталога, отсортированные по имени
func Profiles() []domain.PolicyProfile {
	out := make([]domain.PolicyProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
