package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"
)

// MockSiteConnector имитирует сайт: задержку ответа, собственный rate limit и сбои.
// Используется в dev-режиме без браузера.
type MockSiteConnector struct {
	MaxLatency time.Duration
}

func (c *MockSiteConnector) Call(ctx context.Context, action Action) ([]byte, error) {
	maxLatency := c.MaxLatency
	if maxLatency <= 0 {
		maxLatency = 250 * time.Millisecond
	}
	latency := time.Duration(rand.Int64N(int64(maxLatency)))

	select {
	case <-time.After(latency):
		// Имитация работы страницы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	host := ""
	if u, err := url.Parse(action.Target); err == nil {
		host = u.Hostname()
	}

	switch host {
	case "ratelimited.test":
		return nil, &ThrottleError{StatusCode: 429, RetryAfter: 2 * time.Second, Cause: fmt.Errorf("too many requests")}
	case "unstable.test":
		return nil, fmt.Errorf("site internal error")
	}

	switch action.Kind {
	case ActionNavigate:
		return []byte(fmt.Sprintf(`{"status":"loaded","status_code":200,"url":%q}`, action.Target)), nil
	case ActionClick:
		return []byte(fmt.Sprintf(`{"status":"clicked","selector":%q}`, action.Selector)), nil
	case ActionFill:
		return []byte(fmt.Sprintf(`{"status":"filled","selector":%q}`, action.Selector)), nil
	default:
		return nil, fmt.Errorf("action %q not supported by connector", action.Kind)
	}
}
