package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	mu      sync.Mutex
	batches [][]AuditEvent
	err     error
}

func (m *memoryStorage) WriteBatch(_ context.Context, events []AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]AuditEvent, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *memoryStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestAgentFS_StopFlushesEverything(t *testing.T) {
	repo := &memoryStorage{}
	fs := NewAgentFS(repo, nil, WithFlushInterval(time.Hour), WithBatchSize(1000))
	fs.Start()

	for i := 0; i < 250; i++ {
		fs.Log(AuditEvent{SessionID: "s1", Action: "throttle"})
	}
	fs.Stop()

	assert.Equal(t, 250, repo.total())
}

func TestAgentFS_FlushesByBatchSize(t *testing.T) {
	repo := &memoryStorage{}
	fs := NewAgentFS(repo, nil, WithFlushInterval(time.Hour), WithBatchSize(2))
	fs.Start()
	defer fs.Stop()

	fs.Log(AuditEvent{Action: "deny"})
	fs.Log(AuditEvent{Action: "retry"})

	require.Eventually(t, func() bool { return repo.total() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAgentFS_SetsTimestamp(t *testing.T) {
	repo := &memoryStorage{}
	fs := NewAgentFS(repo, nil)
	fs.Start()
	fs.Log(AuditEvent{Action: "cooldown"})
	fs.Stop()

	require.Len(t, repo.batches, 1)
	assert.False(t, repo.batches[0][0].Timestamp.IsZero())
}

func TestAgentFS_LogAfterStopIsDropped(t *testing.T) {
	repo := &memoryStorage{}
	fs := NewAgentFS(repo, nil)
	fs.Start()
	fs.Stop()

	assert.NotPanics(t, func() { fs.Log(AuditEvent{Action: "deny"}) })
	assert.NotPanics(t, fs.Stop)
	assert.Equal(t, 0, repo.total())
}

func TestAgentFS_OverflowDoesNotBlock(t *testing.T) {
	repo := &memoryStorage{}
	fs := NewAgentFS(repo, nil, WithBufferSize(1))
	// Воркер не запущен: второй Log обязан вернуться сразу
	done := make(chan struct{})
	go func() {
		fs.Log(AuditEvent{Action: "throttle"})
		fs.Log(AuditEvent{Action: "throttle"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on full buffer")
	}
	assert.Equal(t, 1, fs.Pending())
}

func TestFanout_WritesAllAndJoinsErrors(t *testing.T) {
	ok := &memoryStorage{}
	bad := &memoryStorage{err: errors.New("redis down")}
	f := Fanout{bad, nil, ok}

	err := f.WriteBatch(context.Background(), []AuditEvent{{Action: "deny"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 1, ok.total())
	assert.Equal(t, 1, bad.total())
}
