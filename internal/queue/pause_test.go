package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

func TestPauseSwitch_InitFromRedis(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sw := NewPauseSwitch(f.rdb, f.cfg.Group, zap.NewNop())
	require.NoError(t, sw.Init(ctx))
	assert.False(t, sw.Paused())

	require.NoError(t, SetPaused(ctx, f.rdb, f.cfg.Group, true))
	ok, err := f.mr.SIsMember(infra.RedisKeyPausedGroups, f.cfg.Group)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sw.Init(ctx))
	assert.True(t, sw.Paused())
}

func TestPauseSwitch_Listener(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := NewPauseSwitch(f.rdb, "group:with:colons", zap.NewNop())
	other := NewPauseSwitch(f.rdb, "other", zap.NewNop())
	go sw.StartListener(ctx)
	go other.StartListener(ctx)

	require.Eventually(t, func() bool {
		_ = SetPaused(ctx, f.rdb, "group:with:colons", true)
		return sw.Paused()
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, other.Paused())

	require.Eventually(t, func() bool {
		_ = SetPaused(ctx, f.rdb, "group:with:colons", false)
		return !sw.Paused()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRun_PausedConsumerDoesNotRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, SetPaused(ctx, f.rdb, f.cfg.Group, true))
	sw := NewPauseSwitch(f.rdb, f.cfg.Group, zap.NewNop())
	require.NoError(t, sw.Init(ctx))

	f.consumer.WithPause(sw)
	f.consumer.pause = func(ctx context.Context, _ time.Duration) { sleepCtx(ctx, 5*time.Millisecond) }
	f.enqueue(t, "token-1")

	done := make(chan struct{})
	go func() {
		f.consumer.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.proc.seen())

	require.NoError(t, SetPaused(ctx, f.rdb, f.cfg.Group, false))
	require.NoError(t, sw.Init(ctx))
	require.Eventually(t, func() bool { return f.proc.seen() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
