package audit

/*
Файл agentfs.go реализует AgentFS — асинхронный приемник политических событий
движка темпа (Audit Trail).

- Non-blocking Logging: события передаются из Hot Path через буферизованный канал,
  запись в хранилище никогда не задерживает решение о допуске действия.
- Batching: события копятся и сбрасываются пачкой по таймеру или по лимиту пачки.
- Drain Pattern: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
	flushTimeout         = 5 * time.Second
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type AgentFS struct {
	ch            chan AuditEvent  // Буфер для асинхронности
	repo          StorageInterface // Postgres / Redis / Fanout
	logger        *zap.Logger
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	fill          prometheus.Gauge // Может быть nil
	// Защита от Log после Stop
	isClosed int32 // 0 - открыт, 1 - закрыт
	mu       sync.RWMutex
}

type Option func(*AgentFS)

func WithBufferSize(n int) Option {
	return func(fs *AgentFS) {
		if n > 0 {
			fs.ch = make(chan AuditEvent, n)
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(fs *AgentFS) {
		if d > 0 {
			fs.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(fs *AgentFS) {
		if n > 0 {
			fs.batchSize = n
		}
	}
}

// WithFillGauge — куда публиковать заполненность буфера при каждом сбросе
func WithFillGauge(g prometheus.Gauge) Option {
	return func(fs *AgentFS) { fs.fill = g }
}

func NewAgentFS(repo StorageInterface, logger *zap.Logger, opts ...Option) *AgentFS {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs := &AgentFS{
		ch:            make(chan AuditEvent, defaultBufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "agentfs")),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	fs.mu.Lock()
	if !atomic.CompareAndSwapInt32(&fs.isClosed, 0, 1) {
		fs.mu.Unlock()
		return
	}
	fs.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(fs.ch)
	fs.mu.Unlock()

	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

// Pending — текущая заполненность буфера (для метрики backpressure)
func (fs *AgentFS) Pending() int {
	return len(fs.ch)
}

func (fs *AgentFS) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// RLock гарантирует, что канал не закроют между проверкой флага и отправкой
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if atomic.LoadInt32(&fs.isClosed) == 1 {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен тормозить движок
	select {
	case fs.ch <- event:
	default:
		fs.logger.Error("audit_buffer_overflow",
			zap.String("session_id", event.SessionID),
			zap.String("action", event.Action),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]AuditEvent, 0, fs.batchSize)
	ticker := time.NewTicker(fs.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if fs.fill != nil {
			fs.fill.Set(float64(len(fs.ch)))
		}
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт.
		// Таймаут не дает зависшему хранилищу остановить воркер навсегда.
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := fs.repo.WriteBatch(ctx, batch)
		cancel()
		if err != nil {
			fs.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				flush() // Финальный сброс
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= fs.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Fanout пишет одну пачку во все хранилища. Ошибки собираются, но не прерывают остальных.
type Fanout []StorageInterface

func (f Fanout) WriteBatch(ctx context.Context, events []AuditEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.WriteBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
