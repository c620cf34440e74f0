package engine

import (
	"math/rand/v2"
	"time"
)

// Clock отделяет арифметику решений от механизма ожидания.
// Sleep не прерывается: начатую паузу вызывающий отменить не может.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock — системные часы
func RealClock() Clock { return realClock{} }

// randInt64N возвращает равномерное значение в [0, n). Сигнатура совпадает с rand.Int64N.
type randInt64N func(n int64) int64

var defaultRand randInt64N = rand.Int64N
