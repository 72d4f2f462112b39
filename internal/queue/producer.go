package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// Producer кладет команды в стрим в том формате, который читает Consumer.
type Producer struct {
	rdb    *redis.Client
	stream string
}

func NewProducer(rdb *redis.Client, stream string) *Producer {
	return &Producer{rdb: rdb, stream: stream}
}

// Enqueue возвращает id записи, он же MessageID в пачке.
func (p *Producer) Enqueue(ctx context.Context, groupID string, body domain.MessageBody) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal message body: %w", err)
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			fieldBody:    string(data),
			fieldGroupID: groupID,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}
