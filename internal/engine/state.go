package engine

import (
	"sync"
	"time"

	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

// domainState — изменяемая запись активности по ключу (сессия, домен).
type domainState struct {
	// turn сериализует пайплайны одного ключа: держится на всё время проверки, включая паузы
	turn sync.Mutex

	// mu охраняет поля ниже; берется ненадолго, в т.ч. из RecordError и sweep
	mu            sync.Mutex
	createdAt     time.Time
	lastActionAt  time.Time
	recentActions []time.Time // по возрастанию, только последние 60 секунд
	retryCount    uint
	cooldownUntil time.Time

	refs int // сколько вызовов сейчас работает с записью; охраняется stateTable.mu
}

// stateTable — единственный владелец всех domainState процесса.
// Порядок блокировок: stateTable.mu -> domainState.mu. turn никогда не берется под stateTable.mu.
type stateTable struct {
	mu      sync.Mutex
	entries map[domain.Key]*domainState
}

func newStateTable() *stateTable {
	return &stateTable{entries: make(map[domain.Key]*domainState)}
}

// getLocked возвращает запись, создавая её лениво. Вызывать под t.mu.
func (t *stateTable) getLocked(key domain.Key, now time.Time) *domainState {
	st, ok := t.entries[key]
	if !ok {
		st = &domainState{createdAt: now}
		t.entries[key] = st
	}
	return st
}

// acquire захватывает очередь ключа. release обязателен ровно один раз.
func (t *stateTable) acquire(key domain.Key, now time.Time) (*domainState, func()) {
	t.mu.Lock()
	st := t.getLocked(key, now)
	st.refs++
	t.mu.Unlock()

	st.turn.Lock()
	return st, func() {
		st.turn.Unlock()
		t.mu.Lock()
		st.refs--
		t.mu.Unlock()
	}
}

// update выполняет короткую мутацию полей без ожидания очереди ключа
func (t *stateTable) update(key domain.Key, now time.Time, fn func(st *domainState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.getLocked(key, now)
	st.mu.Lock()
	fn(st)
	st.mu.Unlock()
}

// sweep удаляет ключи, простаивающие дольше ttl. Записи с активными вызовами не трогаются.
func (t *stateTable) sweep(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for key, st := range t.entries {
		if st.refs > 0 {
			continue
		}
		st.mu.Lock()
		idle := now.Sub(idleSince(st))
		st.mu.Unlock()
		if idle > ttl {
			delete(t.entries, key)
			evicted++
		}
	}
	return evicted
}

// clearSession удаляет все ключи сессии. Вызов, уже работающий с записью,
// закончит на отсоединенной копии, следующий начнет с чистого состояния.
func (t *stateTable) clearSession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.entries {
		if key.SessionID == sessionID {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

func (t *stateTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// stateSnapshot — копия полей domainState без блокировок
type stateSnapshot struct {
	createdAt     time.Time
	lastActionAt  time.Time
	recentActions []time.Time
	retryCount    uint
	cooldownUntil time.Time
}

// peek — снимок полей для тестов и интроспекции
func (t *stateTable) peek(key domain.Key) (stateSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.entries[key]
	if !ok {
		return stateSnapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return stateSnapshot{
		createdAt:     st.createdAt,
		lastActionAt:  st.lastActionAt,
		recentActions: append([]time.Time(nil), st.recentActions...),
		retryCount:    st.retryCount,
		cooldownUntil: st.cooldownUntil,
	}, true
}
