package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLedger(rdb, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, found, err := l.Lookup(ctx, "dzd_1", "req_1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, l.Remember(ctx, "dzd_1", "req_1", "DZ-1"))
	// Второй ключ для той же заявки не перетирает первый
	require.NoError(t, l.Remember(ctx, "dzd_1", "req_1", "DZ-2"))

	key, found, err := l.Lookup(ctx, "dzd_1", "req_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "DZ-1", key)

	assert.Equal(t, time.Hour, mr.TTL("bridge:tickets:dzd_1:req_1"))

	mr.FastForward(2 * time.Hour)
	_, found, err = l.Lookup(ctx, "dzd_1", "req_1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisLedger_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, _, err := NewRedisLedger(rdb, time.Hour, zap.NewNop()).Lookup(context.Background(), "d", "r")
	require.Error(t, err)
}
