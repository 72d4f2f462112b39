// Package queue — очередь команд оркестратора поверх Redis Streams.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

const (
	fieldBody    = "body"
	fieldGroupID = "group_id"

	reconnectPause = 5 * time.Second
	pausedIdle     = time.Second
)

// BatchProcessor — engine.Processor.
type BatchProcessor interface {
	Process(ctx context.Context, msgs []domain.QueueMessage) (domain.BatchOutcome, error)
}

// Consumer читает пачки из consumer group и подтверждает все, что не вернулось в BatchOutcome.
// Неподтвержденные записи остаются в PEL и через visibility_timeout забираются XAUTOCLAIM.
type Consumer struct {
	rdb          *redis.Client
	cfg          infra.QueueConfig
	proc         BatchProcessor
	auditor      audit.Auditor
	deadLettered prometheus.Counter
	switcher     *PauseSwitch
	logger       *zap.Logger
	pause        func(ctx context.Context, d time.Duration)
}

// deadLettered может быть nil.
func NewConsumer(rdb *redis.Client, cfg infra.QueueConfig, proc BatchProcessor, auditor audit.Auditor, deadLettered prometheus.Counter, logger *zap.Logger) *Consumer {
	if auditor == nil {
		auditor = audit.Discard{}
	}
	return &Consumer{
		rdb:          rdb,
		cfg:          cfg,
		proc:         proc,
		auditor:      auditor,
		deadLettered: deadLettered,
		logger: logger.With(
			zap.String("mod", "consumer"),
			zap.String("stream", cfg.Stream),
			zap.String("group", cfg.Group)),
		pause: sleepCtx,
	}
}

// WithPause подключает операторский стоп-кран. Без него консьюмер читает всегда.
func (c *Consumer) WithPause(p *PauseSwitch) *Consumer {
	c.switcher = p
	return c
}

// EnsureGroup создает группу (и стрим). Существующая группа — не ошибка.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run — "живучий" цикл: ошибки Redis не выходят наружу, только пауза и повтор.
// Возвращается после отмены ctx.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("consumer started", zap.String("consumer", c.cfg.Consumer))
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return
		}

		if err := c.EnsureGroup(ctx); err != nil {
			c.logger.Error("failed to prepare consumer group", zap.Error(err))
			c.pause(ctx, reconnectPause)
			continue
		}

		for ctx.Err() == nil {
			if c.switcher != nil && c.switcher.Paused() {
				c.pause(ctx, pausedIdle)
				continue
			}

			halted, err := c.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				c.logger.Error("queue poll failed, reconnecting", zap.Error(err))
				c.pause(ctx, reconnectPause)
				break
			}
			if halted {
				c.logger.Warn("batch halted, backing off", zap.Duration("backoff", c.cfg.HaltBackoff))
				c.pause(ctx, c.cfg.HaltBackoff)
			}
		}
	}
}

// Poll — одна итерация: чтение, отсев в dead-letter, обработка, XACK.
// halted сообщает, что пачка остановилась на недоступном бэкенде.
func (c *Consumer) Poll(ctx context.Context) (halted bool, err error) {
	entries, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	msgs, err := c.admit(ctx, entries)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}

	out, perr := c.proc.Process(ctx, msgs)

	// Подтверждаем обработанное даже если ctx уже отменен
	ackCtx := context.WithoutCancel(ctx)
	var ack []string
	for _, m := range msgs {
		if !out.IsUnresolved(m.MessageID) {
			ack = append(ack, m.MessageID)
		}
	}
	if len(ack) > 0 {
		if err := c.rdb.XAck(ackCtx, c.cfg.Stream, c.cfg.Group, ack...).Err(); err != nil {
			return false, fmt.Errorf("ack processed messages: %w", err)
		}
	}
	c.logger.Debug("batch acknowledged",
		zap.Int("acked", len(ack)),
		zap.Int("unresolved", len(out.BatchItemFailures)))

	var halt *engine.HaltError
	if errors.As(perr, &halt) {
		return true, nil
	}
	return false, nil
}

// read: сначала свои неподтвержденные записи (остаток остановленной пачки),
// затем зависшие у других потребителей, и только потом новые.
// Новые записи не обгоняют сообщение, на котором пачка остановилась.
func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	own, err := c.readStream(ctx, "0", -1)
	if err != nil {
		return nil, fmt.Errorf("read own pending: %w", err)
	}
	if len(own) > 0 {
		if int64(len(own)) > c.cfg.BatchSize && c.cfg.BatchSize > 0 {
			own = own[:c.cfg.BatchSize]
		}
		c.logger.Info("redelivering own pending messages", zap.Int("count", len(own)))
		return own, nil
	}

	claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.VisibilityTimeout,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("autoclaim: %w", err)
	}
	if len(claimed) > 0 {
		c.logger.Info("reclaimed pending messages", zap.Int("count", len(claimed)))
		return claimed, nil
	}

	fresh, err := c.readStream(ctx, ">", c.cfg.BlockTimeout)
	if err != nil {
		return nil, fmt.Errorf("readgroup: %w", err)
	}
	return fresh, nil
}

// readStream — XREADGROUP с позиции id. block < 0 — без ожидания.
func (c *Consumer) readStream(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// admit превращает записи стрима в сообщения пачки. Битые и исчерпавшие
// лимит доставок записи уходят в dead-letter stream и в пачку не попадают.
func (c *Consumer) admit(ctx context.Context, entries []redis.XMessage) ([]domain.QueueMessage, error) {
	msgs := make([]domain.QueueMessage, 0, len(entries))
	for _, e := range entries {
		count, err := c.receiveCount(ctx, e.ID)
		if err != nil {
			return nil, err
		}

		if c.cfg.MaxReceiveCount > 0 && count > c.cfg.MaxReceiveCount {
			reason := fmt.Sprintf("message was received %d times, limit is %d", count, c.cfg.MaxReceiveCount)
			if err := c.deadLetter(ctx, e, count, reason); err != nil {
				return nil, err
			}
			continue
		}

		m, err := decode(e)
		if err != nil {
			if err := c.deadLetter(ctx, e, count, err.Error()); err != nil {
				return nil, err
			}
			continue
		}
		m.ReceiveCount = count
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *Consumer) receiveCount(ctx context.Context, id string) (int64, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("pending info for %s: %w", id, err)
	}
	if len(pending) == 0 {
		return 1, nil
	}
	return pending[0].RetryCount, nil
}

func (c *Consumer) deadLetter(ctx context.Context, e redis.XMessage, count int64, reason string) error {
	values := make(map[string]any, len(e.Values)+3)
	for k, v := range e.Values {
		values[k] = v
	}
	values["source_id"] = e.ID
	values["receive_count"] = count
	values["reason"] = reason

	pipe := c.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.DeadLetterStream, Values: values})
	pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, e.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter %s: %w", e.ID, err)
	}

	c.logger.Error("message moved to dead-letter stream",
		zap.String("message_id", e.ID),
		zap.Int64("receive_count", count),
		zap.String("reason", reason))
	if c.deadLettered != nil {
		c.deadLettered.Inc()
	}

	groupID, _ := e.Values[fieldGroupID].(string)
	c.auditor.Record(audit.OutcomeEvent{
		MessageID:    e.ID,
		GroupID:      groupID,
		Disposition:  audit.DispositionDeadLettered,
		Reason:       reason,
		ReceiveCount: count,
	})
	return nil
}

func decode(e redis.XMessage) (domain.QueueMessage, error) {
	raw, ok := e.Values[fieldBody].(string)
	if !ok || raw == "" {
		return domain.QueueMessage{}, errors.New("entry has no body")
	}

	var body domain.MessageBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("body is not valid JSON: %w", err)
	}
	// Без токена отчитаться некуда
	if body.TaskToken == "" {
		return domain.QueueMessage{}, errors.New("body has no TaskToken")
	}

	groupID, _ := e.Values[fieldGroupID].(string)
	return domain.QueueMessage{
		MessageID:         e.ID,
		GroupID:           groupID,
		ContinuationToken: body.TaskToken,
		Command:           body.Command,
		Payload:           body.Payload,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

