package audit

import "time"

// TypePolicy — единственный тип записей, которые порождает движок темпа
const TypePolicy = "policy"

type AuditEvent struct {
	ID        string         `json:"id"`         // UUID события
	TraceID   string         `json:"trace_id"`   // Сквозной ID запроса
	SessionID string         `json:"session_id"` // Чья сессия браузера
	ActionID  string         `json:"action_id"`  // ID конкретной проверки/действия
	Type      string         `json:"type"`       // Всегда "policy"
	Action    string         `json:"action"`     // deny | retry | cooldown | throttle
	Params    map[string]any `json:"params"`     // domain, action, reason, wait_ms ...
	Result    Result         `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result — итог, зафиксированный движком
type Result struct {
	PolicyEvent string `json:"policy_event"`
	Profile     string `json:"profile"`
}

// Auditor — приемник событий. Fire-and-forget: подтверждение доставки не требуется.
type Auditor interface {
	Log(event AuditEvent)
}

// Nop — приемник, который ничего не делает
type Nop struct{}

func (Nop) Log(AuditEvent) {}
