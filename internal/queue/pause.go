package queue

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

// PauseSwitch — операторский стоп-кран для группы консьюмеров.
// Состояние хранится в Redis Set, живые воркеры узнают об изменениях по Pub/Sub.
type PauseSwitch struct {
	rdb    *redis.Client
	group  string
	paused atomic.Bool
	logger *zap.Logger
}

func NewPauseSwitch(rdb *redis.Client, group string, logger *zap.Logger) *PauseSwitch {
	return &PauseSwitch{
		rdb:    rdb,
		group:  group,
		logger: logger.With(zap.String("mod", "pause_switch"), zap.String("group", group)),
	}
}

// Init загружает текущее состояние при старте и при каждом переподключении.
func (p *PauseSwitch) Init(ctx context.Context) error {
	paused, err := p.rdb.SIsMember(ctx, infra.RedisKeyPausedGroups, p.group).Result()
	if err != nil {
		return fmt.Errorf("load pause state: %w", err)
	}
	p.set(paused)
	return nil
}

func (p *PauseSwitch) Paused() bool {
	return p.paused.Load()
}

// StartListener блокируется до отмены ctx.
func (p *PauseSwitch) StartListener(ctx context.Context) {
	listenResilient(ctx, p.rdb, p.logger, infra.RedisChanPause,
		func() error { return p.Init(ctx) },
		func(group string, paused bool) {
			if group == p.group {
				p.set(paused)
			}
		})
}

func (p *PauseSwitch) set(paused bool) {
	if p.paused.Swap(paused) != paused {
		p.logger.Warn("queue pause state changed", zap.Bool("paused", paused))
	}
}

// SetPaused — сторона оператора: сначала Set (переживает рестарты), потом сигнал.
func SetPaused(ctx context.Context, rdb *redis.Client, group string, paused bool) error {
	var err error
	if paused {
		err = rdb.SAdd(ctx, infra.RedisKeyPausedGroups, group).Err()
	} else {
		err = rdb.SRem(ctx, infra.RedisKeyPausedGroups, group).Err()
	}
	if err != nil {
		return fmt.Errorf("store pause state: %w", err)
	}
	return rdb.Publish(ctx, infra.RedisChanPause, fmt.Sprintf("%s:%t", group, paused)).Err()
}

// listenResilient — "живучая" подписка: переподключение, синхронизация и разбор сигналов "id:state".
func listenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(id string, state bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			sleepCtx(ctx, reconnectPause)
			continue
		}

		// Сигналы, пропущенные пока не было подписки, подтягиваем из Redis
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}

				// Имя группы может содержать ':', состояние — всегда после последнего
				i := strings.LastIndex(msg.Payload, ":")
				if i <= 0 {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				state := msg.Payload[i+1:]
				onMessage(msg.Payload[:i], state == "true" || state == "on")
			}
		}

		_ = pubsub.Close()
		sleepCtx(ctx, time.Second)
	}
}
