package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/queue"
)

// ControlService останавливает и возобновляет чтение очереди группой воркеров.
type ControlService struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewControlService(rdb *redis.Client, logger *zap.Logger) *ControlService {
	return &ControlService{rdb: rdb, logger: logger.Named("control-service")}
}

func (s *ControlService) SetPaused(ctx context.Context, group, operator string, paused bool) error {
	if err := queue.SetPaused(ctx, s.rdb, group, paused); err != nil {
		s.logger.Error("failed to switch queue state",
			zap.String("group", group), zap.Bool("paused", paused), zap.Error(err))
		return fmt.Errorf("control_service: %w", err)
	}
	s.logger.Warn("queue state switched by operator",
		zap.String("group", group),
		zap.String("operator", operator),
		zap.Bool("paused", paused))
	return nil
}
