// Package ledger помнит, какой тикет уже создан для заявки.
// Повторная доставка CREATE_ISSUE после созданного тикета не должна плодить дубликаты.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

// Ledger — check-before-create по паре домен + заявка.
type Ledger interface {
	// Lookup возвращает ключ тикета и true, если тикет по заявке уже создавался.
	Lookup(ctx context.Context, domainID, requestID string) (string, bool, error)
	// Remember сохраняет ключ. Уже записанный ключ не перезаписывается.
	Remember(ctx context.Context, domainID, requestID, issueKey string) error
}

type RedisLedger struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLedger(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("mod", "ledger")),
	}
}

func (l *RedisLedger) Lookup(ctx context.Context, domainID, requestID string) (string, bool, error) {
	key, err := l.rdb.Get(ctx, infra.TicketKey(domainID, requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger lookup: %w", err)
	}
	return key, true, nil
}

func (l *RedisLedger) Remember(ctx context.Context, domainID, requestID, issueKey string) error {
	ok, err := l.rdb.SetNX(ctx, infra.TicketKey(domainID, requestID), issueKey, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("ledger remember: %w", err)
	}
	if !ok {
		l.logger.Warn("ticket already recorded for request",
			zap.String("domain_id", domainID),
			zap.String("subscription_req_id", requestID),
			zap.String("issue_key", issueKey))
	}
	return nil
}

// Nop — леджер выключен (одиночный обработчик без Redis).
type Nop struct{}

func (Nop) Lookup(context.Context, string, string) (string, bool, error) { return "", false, nil }

func (Nop) Remember(context.Context, string, string, string) error { return nil }
