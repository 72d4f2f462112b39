package callback

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

type countingCounter struct {
	prometheus.Counter
	n int
}

func (c *countingCounter) Inc() { c.n++ }

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func receive(t *testing.T, sub *redis.PubSub) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	return env
}

func TestRedisDispatcher_Success(t *testing.T) {
	_, rdb := setup(t)
	ctx := context.Background()

	personal := rdb.Subscribe(ctx, infra.CallbackChannel("tok-1"))
	defer personal.Close()
	_, err := personal.Receive(ctx)
	require.NoError(t, err)

	shared := rdb.Subscribe(ctx, infra.RedisChanCallbacks)
	defer shared.Close()
	_, err = shared.Receive(ctx)
	require.NoError(t, err)

	d := NewRedisDispatcher(rdb, nil, zap.NewNop())
	d.Signal(ctx, "tok-1", KindSuccess, domain.ResponseData{
		StatusCode: 200, DomainID: "dzd_1", SubscriptionReqID: "req_1", IssueKey: "DZ-1",
	})

	for _, sub := range []*redis.PubSub{personal, shared} {
		env := receive(t, sub)
		assert.Equal(t, "tok-1", env.TaskToken)
		assert.Equal(t, KindSuccess, env.Status)
		assert.Empty(t, env.Error)

		var out domain.ResponseData
		require.NoError(t, json.Unmarshal(env.Output, &out))
		assert.Equal(t, "DZ-1", out.IssueKey)
		assert.Equal(t, "req_1", out.SubscriptionReqID)
	}
}

func TestRedisDispatcher_Failure(t *testing.T) {
	_, rdb := setup(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, infra.CallbackChannel("tok-2"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	NewRedisDispatcher(rdb, nil, zap.NewNop()).
		Signal(ctx, "tok-2", KindFailure, "ExternalWorkflowRespondedWithNOK. Bad request.")

	env := receive(t, sub)
	assert.Equal(t, KindFailure, env.Status)
	assert.Equal(t, "ExternalWorkflowRespondedWithNOK. Bad request.", env.Error)
	assert.Empty(t, env.Output)
}

func TestRedisDispatcher_SwallowsDeliveryErrors(t *testing.T) {
	mr, rdb := setup(t)
	mr.Close()

	failures := &countingCounter{}
	d := NewRedisDispatcher(rdb, failures, zap.NewNop())

	assert.NotPanics(t, func() {
		d.Signal(context.Background(), "tok-3", KindSuccess, map[string]string{"a": "b"})
	})
	assert.Equal(t, 1, failures.n)
}
