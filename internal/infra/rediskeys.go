package infra

import (
	"fmt"
	"time"
)

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "pacer"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanSessionClosed — payload: id сессии, по нему движок чистит состояние
	RedisChanSessionClosed = RedisNamespace + ":sessions:closed"
	// RedisChanSessionPolicy — payload: JSON {session_id, profile, overrides}
	RedisChanSessionPolicy = RedisNamespace + ":sessions:policy"
)

// Ключи счетчиков событий политики
const (
	RedisKeyStatsPrefix = RedisNamespace + ":stats:"
	RedisStatsTTL       = 24 * time.Hour
)

// GetStatsKey — хэш счетчиков за минуту: pacer:stats:<session>:<202601011200>
func GetStatsKey(sessionID string, at time.Time) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyStatsPrefix, sessionID, at.UTC().Format("200601021504"))
}
