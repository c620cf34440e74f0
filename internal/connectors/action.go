package connectors

import "context"

// Виды действий, которые умеет исполнять коннектор браузера
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionFill     = "fill"
)

// Action — одно реальное действие агента над страницей
type Action struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`               // navigate | click | fill
	Target    string `json:"target"`             // URL сайта, по нему считается домен
	Selector  string `json:"selector,omitempty"` // Для click/fill
	Value     string `json:"value,omitempty"`    // Для fill
}

// Executor исполняет действие во внешнем слое автоматизации браузера
type Executor interface {
	Call(ctx context.Context, action Action) ([]byte, error)
}
