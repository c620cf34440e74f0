package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pacer/internal/connectors"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

// scriptedExecutor отдает ошибки из очереди, после нее — успех
type scriptedExecutor struct {
	mu     sync.Mutex
	script []error
	calls  []connectors.Action
}

func (e *scriptedExecutor) Call(_ context.Context, a connectors.Action) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, a)
	if len(e.script) > 0 {
		err := e.script[0]
		if len(e.script) > 1 {
			e.script = e.script[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return []byte(`{"status":"ok"}`), nil
}

func (e *scriptedExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func throttled() error {
	return &connectors.ThrottleError{StatusCode: 429, Cause: errors.New("too many requests")}
}

func newTestGateway(t *testing.T, base string, exec connectors.Executor, opts ...GatewayOption) (*Gateway, *Pacer, *fakeClock, *auditRecorder) {
	t.Helper()
	p, clk, rec := newTestPacer(t, base)
	all := append([]GatewayOption{WithBaseDelay(time.Millisecond)}, opts...)
	return NewGateway(p, exec, rec, all...), p, clk, rec
}

func request(sensitive bool) ActionRequest {
	return ActionRequest{
		SessionID: "s1",
		Action:    connectors.ActionClick,
		Target:    "https://Shop.Example.com/cart",
		Selector:  "#buy",
		Sensitive: sensitive,
	}
}

func TestGateway_SuccessFirstAttempt(t *testing.T) {
	exec := &scriptedExecutor{}
	g, _, _, _ := newTestGateway(t, domain.ProfileSafe, exec)

	res, err := g.Execute(bg, request(false))
	require.NoError(t, err)

	assert.Equal(t, uint(1), res.Attempts)
	assert.Equal(t, "shop.example.com", res.Domain)
	assert.True(t, res.Decision.Allowed)
	assert.Equal(t, int64(300), res.WaitedMs)
	assert.JSONEq(t, `{"status":"ok"}`, string(res.Response))
	assert.NotEmpty(t, res.ActionID)

	require.Equal(t, 1, exec.count())
	assert.Equal(t, res.ActionID, exec.calls[0].ID)
	assert.Equal(t, "#buy", exec.calls[0].Selector)
}

func TestGateway_ThrottleThenSuccess(t *testing.T) {
	exec := &scriptedExecutor{script: []error{throttled(), nil}}
	g, p, _, rec := newTestGateway(t, domain.ProfileSafe, exec)

	res, err := g.Execute(bg, request(false))
	require.NoError(t, err)

	assert.Equal(t, uint(2), res.Attempts)
	assert.Equal(t, 2, exec.count())
	// 300 jitter, затем 8000 cooldown + 300 jitter на повторе
	assert.Equal(t, int64(8600), res.WaitedMs)

	snap, ok := p.table.peek(domain.Key{SessionID: "s1", Domain: "shop.example.com"})
	require.True(t, ok)
	assert.Equal(t, uint(1), snap.retryCount)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, "cooldown", events[0].Action) // RecordError
	assert.Equal(t, "cooldown", events[1].Action) // повтор отсидел cooldown
}

func TestGateway_SensitiveDeniedWithoutExecution(t *testing.T) {
	exec := &scriptedExecutor{}
	g, _, _, _ := newTestGateway(t, domain.ProfileSafe, exec)

	res, err := g.Execute(bg, request(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)

	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, domain.EventDeny, res.Decision.PolicyEvent)
	assert.Contains(t, res.Decision.Reason, "sensitive action")
	assert.Equal(t, uint(1), res.Attempts)
	assert.Equal(t, 0, exec.count())
}

func TestGateway_RetryBudgetStopsThrottleLoop(t *testing.T) {
	exec := &scriptedExecutor{script: []error{throttled()}}
	g, _, _, _ := newTestGateway(t, domain.ProfileSafe, exec)

	res, err := g.Execute(bg, request(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)

	// 1 исходная попытка + 3 повтора из бюджета, пятая упирается в бюджет
	assert.Equal(t, uint(5), res.Attempts)
	assert.Equal(t, 4, exec.count())
	assert.Contains(t, res.Decision.Reason, "retry budget exhausted for shop.example.com: 3/3")
}

func TestGateway_GenericErrorExhaustsAttempts(t *testing.T) {
	boom := errors.New("connection reset")
	exec := &scriptedExecutor{script: []error{boom}}
	g, p, _, _ := newTestGateway(t, domain.ProfileSafe, exec, WithMaxAttempts(2))

	res, err := g.Execute(bg, request(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDenied)
	assert.Equal(t, uint(2), res.Attempts)

	// Обычная ошибка не взводит cooldown
	snap, ok := p.table.peek(domain.Key{SessionID: "s1", Domain: "shop.example.com"})
	require.True(t, ok)
	assert.True(t, snap.cooldownUntil.IsZero())
}

func TestGateway_OpenBreakerIsNotRetried(t *testing.T) {
	exec := &scriptedExecutor{script: []error{gobreaker.ErrOpenState}}
	g, _, _, _ := newTestGateway(t, domain.ProfileSafe, exec)

	res, err := g.Execute(bg, request(false))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, uint(1), res.Attempts)
}

func TestGateway_DisabledProfileSkipsPacing(t *testing.T) {
	exec := &scriptedExecutor{}
	g, p, clk, rec := newTestGateway(t, domain.ProfileDisabled, exec)

	res, err := g.Execute(bg, request(true))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.WaitedMs)
	assert.Equal(t, 0, clk.sleeps())
	assert.Empty(t, rec.all())
	assert.Equal(t, 0, p.TrackedKeys())
}

type selectorClassifier string

func (c selectorClassifier) IsSensitive(_, selector, _ string) bool { return selector == string(c) }

func TestGateway_ClassifierMarksSensitive(t *testing.T) {
	exec := &scriptedExecutor{}
	g, _, _, _ := newTestGateway(t, domain.ProfileSafe, exec, WithClassifier(selectorClassifier("#buy")))

	res, err := g.Execute(bg, request(false))
	assert.ErrorIs(t, err, ErrDenied)
	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, 0, exec.count())

	other := request(false)
	other.Selector = "#search"
	_, err = g.Execute(bg, other)
	assert.NoError(t, err)
}
