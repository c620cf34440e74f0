package risk

/*
Файл analyzer.go — разметка чувствительных действий на стороне шлюза.
Движок темпа сам ничего не классифицирует: флаг Sensitive ставит вызывающий.
Шлюз и есть вызывающий, поэтому правила живут здесь, рядом с ним.
*/

import (
	"strings"

	"go.uber.org/zap"
)

// Rules — что считать чувствительным действием
type Rules struct {
	Actions   []string `mapstructure:"actions"`   // Метки действий: purchase, submit_payment ...
	Selectors []string `mapstructure:"selectors"` // Подстроки селектора: password, card-number ...
	Domains   []string `mapstructure:"domains"`   // Любое действие на этих доменах (банк, госуслуги)
}

// DefaultRules — разумный минимум, если в конфиге ничего не задано
func DefaultRules() Rules {
	return Rules{
		Actions:   []string{"purchase", "submit_payment", "delete_account", "send_message"},
		Selectors: []string{"password", "card-number", "cvv", "iban"},
	}
}

type Analyzer struct {
	actions   map[string]struct{}
	selectors []string
	domains   map[string]struct{}
	logger    *zap.Logger
}

func NewAnalyzer(rules Rules, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		actions: make(map[string]struct{}, len(rules.Actions)),
		domains: make(map[string]struct{}, len(rules.Domains)),
		logger:  logger.Named("analyzer"),
	}
	for _, s := range rules.Actions {
		if s = norm(s); s != "" {
			a.actions[s] = struct{}{}
		}
	}
	for _, s := range rules.Selectors {
		if s = norm(s); s != "" {
			a.selectors = append(a.selectors, s)
		}
	}
	for _, s := range rules.Domains {
		if s = norm(s); s != "" {
			a.domains[s] = struct{}{}
		}
	}
	return a
}

// IsSensitive проверяет действие по правилам. Разметку вызывающего не снимает:
// итоговый флаг = флаг клиента || IsSensitive.
func (a *Analyzer) IsSensitive(action, selector, domain string) bool {
	if a == nil {
		return false
	}
	if _, ok := a.actions[norm(action)]; ok {
		return a.hit("action", action, domain)
	}
	if _, ok := a.domains[norm(domain)]; ok {
		return a.hit("domain", action, domain)
	}
	sel := norm(selector)
	if sel == "" {
		return false
	}
	for _, s := range a.selectors {
		if strings.Contains(sel, s) {
			return a.hit("selector", action, domain)
		}
	}
	return false
}

func (a *Analyzer) hit(rule, action, domain string) bool {
	a.logger.Debug("action marked sensitive",
		zap.String("rule", rule),
		zap.String("action", action),
		zap.String("domain", domain))
	return true
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
