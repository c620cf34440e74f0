package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError — сайт сам ответил ограничением (429/503, капча, "slow down").
// Это сигнал для RecordError, а не ошибка движка темпа.
type ThrottleError struct {
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled by site (status %d): retry after %v (cause: %v)", e.StatusCode, e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// IsSiteThrottle сообщает, является ли ошибка ограничением со стороны сайта
func IsSiteThrottle(err error) (*ThrottleError, bool) {
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return tErr, true
	}
	return nil, false
}
