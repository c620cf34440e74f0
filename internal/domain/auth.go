package domain

import "github.com/golang-jwt/jwt/v5"

// Скоупы управляющего API
const (
	ScopeActions     = "pacer.actions"      // check / execute / errors
	ScopePolicyWrite = "pacer.policy.write" // смена профиля, закрытие сессии
)

// OperatorClaims — claims токена оркестратора агентов
type OperatorClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "pacer.policy.write": true
	jwt.RegisteredClaims
}
