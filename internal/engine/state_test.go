package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

func TestStateTable_SweepSkipsInFlightEntries(t *testing.T) {
	tbl := newStateTable()
	key := domain.Key{SessionID: "s1", Domain: "x.test"}

	_, release := tbl.acquire(key, t0)
	assert.Equal(t, 0, tbl.sweep(at(time.Hour), time.Minute))
	release()

	assert.Equal(t, 1, tbl.sweep(at(time.Hour), time.Minute))
	assert.Equal(t, 0, tbl.len())
}

func TestStateTable_DifferentKeysDoNotBlock(t *testing.T) {
	tbl := newStateTable()
	_, releaseA := tbl.acquire(domain.Key{SessionID: "s1", Domain: "a.test"}, t0)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		_, releaseB := tbl.acquire(domain.Key{SessionID: "s1", Domain: "b.test"}, t0)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire of another key blocked")
	}
}

func TestStateTable_SameKeyWaitsForTurn(t *testing.T) {
	tbl := newStateTable()
	key := domain.Key{SessionID: "s1", Domain: "a.test"}
	_, release := tbl.acquire(key, t0)

	got := make(chan struct{})
	go func() {
		_, r := tbl.acquire(key, t0)
		r()
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("second acquire must wait")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.Eventually(t, func() bool {
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestStateTable_UpdateBypassesTurn(t *testing.T) {
	tbl := newStateTable()
	key := domain.Key{SessionID: "s1", Domain: "a.test"}
	_, release := tbl.acquire(key, t0)
	defer release()

	done := make(chan struct{})
	go func() {
		tbl.update(key, t0, func(st *domainState) { st.cooldownUntil = at(time.Minute) })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update blocked behind an in-flight pipeline")
	}

	st, ok := tbl.peek(key)
	require.True(t, ok)
	assert.Equal(t, at(time.Minute), st.cooldownUntil)
}

func TestStateTable_IdleUsesCreationWhenNeverActed(t *testing.T) {
	tbl := newStateTable()
	tbl.update(domain.Key{SessionID: "s1", Domain: "a.test"}, t0, func(st *domainState) {})

	assert.Equal(t, 0, tbl.sweep(at(10*time.Minute), 30*time.Minute))
	assert.Equal(t, 1, tbl.sweep(at(31*time.Minute), 30*time.Minute))
}

func TestStateTable_ClearSession(t *testing.T) {
	tbl := newStateTable()
	for _, k := range []domain.Key{{SessionID: "s1", Domain: "a"}, {SessionID: "s1", Domain: "b"}, {SessionID: "s2", Domain: "a"}} {
		tbl.update(k, t0, func(*domainState) {})
	}
	assert.Equal(t, 2, tbl.clearSession("s1"))
	_, ok := tbl.peek(domain.Key{SessionID: "s2", Domain: "a"})
	assert.True(t, ok)
}
