package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Пауза между попытками подписки растет вдвое до maxResubscribe, пока Redis недоступен
const (
	minResubscribe = time.Second
	maxResubscribe = 30 * time.Second
)

// ListenResilient — универсальный цикл для "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения и логирование, разбор payload — на стороне onMessage.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Callback для синхронизации при переподключении, может быть nil
	onMessage func(payload string),
) {
	backoff := minResubscribe
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel),
				zap.Duration("retry_in", backoff), zap.Error(err))
			if !pause(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxResubscribe)
			continue
		}
		backoff = minResubscribe
		logger.Info("subscribed", zap.String("chan", channel))

		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				logger.Error("sync failed on reconnect", zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(msg.Payload)
			}
		}

		pubsub.Close()
		logger.Warn("subscription dropped, resubscribing", zap.String("chan", channel))
		if !pause(ctx, minResubscribe) {
			return
		}
	}
}

// pause ждет d или отмены ctx; false — контекст отменен
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
