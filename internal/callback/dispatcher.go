// Package callback сообщает оркестратору исход команды по continuation token.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

type Kind string

const (
	KindSuccess Kind = "SUCCESS"
	KindFailure Kind = "FAILURE"
)

// Dispatcher никогда не возвращает ошибку: недоставленный колбэк логируется,
// дальше восстановлением занимается таймаут оркестратора.
type Dispatcher interface {
	Signal(ctx context.Context, token string, kind Kind, payload any)
}

// Envelope — то, что уходит в канал. Output для SUCCESS, Error для FAILURE.
type Envelope struct {
	TaskToken string          `json:"task_token"`
	Status    Kind            `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

// RedisDispatcher публикует конверт в персональный канал токена и в общий канал колбэков.
type RedisDispatcher struct {
	rdb      *redis.Client
	failures prometheus.Counter
	logger   *zap.Logger
	now      func() time.Time
}

// failures может быть nil.
func NewRedisDispatcher(rdb *redis.Client, failures prometheus.Counter, logger *zap.Logger) *RedisDispatcher {
	return &RedisDispatcher{
		rdb:      rdb,
		failures: failures,
		logger:   logger.With(zap.String("mod", "callback")),
		now:      time.Now,
	}
}

func (d *RedisDispatcher) Signal(ctx context.Context, token string, kind Kind, payload any) {
	log := d.logger.With(zap.String("status", string(kind)))

	env, err := d.envelope(token, kind, payload)
	if err != nil {
		d.fail(log, "failed to build callback", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		d.fail(log, "failed to marshal callback", err)
		return
	}

	pipe := d.rdb.Pipeline()
	personal := pipe.Publish(ctx, infra.CallbackChannel(token), data)
	pipe.Publish(ctx, infra.RedisChanCallbacks, data)
	if _, err := pipe.Exec(ctx); err != nil {
		// Частая причина — протухший токен или оркестратор уже не ждет этот шаг
		d.fail(log, "error during orchestrator callback", err)
		return
	}

	log.Info("sent callback", zap.Int64("personal_receivers", personal.Val()))
}

func (d *RedisDispatcher) envelope(token string, kind Kind, payload any) (*Envelope, error) {
	env := &Envelope{TaskToken: token, Status: kind, SentAt: d.now().UTC()}

	if kind == KindFailure {
		switch v := payload.(type) {
		case string:
			env.Error = v
		case error:
			env.Error = v.Error()
		default:
			env.Error = fmt.Sprint(v)
		}
		return env, nil
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal callback output: %w", err)
	}
	env.Output = out
	return env, nil
}

func (d *RedisDispatcher) fail(log *zap.Logger, msg string, err error) {
	if d.failures != nil {
		d.failures.Inc()
	}
	log.Error(msg, zap.Error(err))
}
