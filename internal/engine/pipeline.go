package engine

import (
	"math"
	"sort"
	"time"

	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

// Чистая арифметика пайплайна: детерминирована при заданных часах и состоянии,
// ничего не ждет и ничего не мутирует.

const (
	window     = 60 * time.Second       // Скользящее окно bulk-лимита
	bulkBuffer = 100 * time.Millisecond // Запас поверх выхода старейшей записи из окна
)

// clamp защищает от отрицательных пауз (сдвиг часов)
func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// cooldownRemaining — сколько осталось до конца cooldown
func cooldownRemaining(until, now time.Time) time.Duration {
	if until.IsZero() || !now.Before(until) {
		return 0
	}
	return clamp(until.Sub(now))
}

// pruneWindow оставляет только отметки за последние 60 секунд. Порядок сохраняется.
func pruneWindow(actions []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(actions) && !actions[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return actions
	}
	// Копируем хвост, чтобы не держать старый массив целиком
	return append(actions[:0:0], actions[i:]...)
}

// appendOrdered добавляет отметку, сохраняя возрастание даже при сдвиге часов назад
func appendOrdered(actions []time.Time, t time.Time) []time.Time {
	i := sort.Search(len(actions), func(i int) bool { return actions[i].After(t) })
	actions = append(actions, time.Time{})
	copy(actions[i+1:], actions[i:])
	actions[i] = t
	return actions
}

// bulkWait — пауза до освобождения места в окне: (60s - возраст старейшей) + 100ms.
// maxPerMinute == 0 означает отсутствие bulk-лимита.
func bulkWait(actions []time.Time, now time.Time, maxPerMinute uint) time.Duration {
	if maxPerMinute == 0 || len(actions) == 0 || uint(len(actions)) < maxPerMinute {
		return 0
	}
	age := clamp(now.Sub(actions[0]))
	return clamp(window-age) + bulkBuffer
}

// intervalRemaining — остаток минимального интервала между действиями на домене
func intervalRemaining(last, now time.Time, minInterval time.Duration) time.Duration {
	if last.IsZero() || minInterval <= 0 {
		return 0
	}
	elapsed := clamp(now.Sub(last))
	if elapsed >= minInterval {
		return 0
	}
	return minInterval - elapsed
}

// jitterDelay — равномерная случайная пауза в [JitterMin, JitterMax]
func jitterDelay(p domain.PolicyProfile, randN randInt64N) time.Duration {
	lo, hi := clamp(p.JitterMin), clamp(p.JitterMax)
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	if span == math.MaxInt64 {
		// +1 переполнит int64: теряем только одну наносекунду верхней границы
		return lo + time.Duration(randN(span))
	}
	return lo + time.Duration(randN(span+1))
}

// idleSince — с какого момента ключ считается простаивающим
func idleSince(st *domainState) time.Time {
	if st.lastActionAt.IsZero() {
		return st.createdAt
	}
	return st.lastActionAt
}
