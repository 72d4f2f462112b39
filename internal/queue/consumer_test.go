package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

// fakeProcessor останавливает пачку на сообщении с индексом haltAt (-1 — без остановки).
type fakeProcessor struct {
	mu      sync.Mutex
	haltAt  int
	batches [][]domain.QueueMessage
}

func (p *fakeProcessor) Process(_ context.Context, msgs []domain.QueueMessage) (domain.BatchOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, msgs)

	out := domain.BatchOutcome{BatchItemFailures: []domain.BatchItemFailure{}}
	if p.haltAt < 0 || p.haltAt >= len(msgs) {
		return out, nil
	}
	for _, m := range msgs[p.haltAt:] {
		out.BatchItemFailures = append(out.BatchItemFailures, domain.BatchItemFailure{ItemIdentifier: m.MessageID})
	}
	return out, &engine.HaltError{MessageID: msgs[p.haltAt].MessageID, Reason: "down"}
}

func (p *fakeProcessor) seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.OutcomeEvent
}

func (a *recordingAuditor) Record(e audit.OutcomeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

type fixture struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	cfg      infra.QueueConfig
	proc     *fakeProcessor
	auditor  *recordingAuditor
	consumer *Consumer
	producer *Producer
}

func newFixture(t *testing.T, mutate func(*infra.QueueConfig)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := infra.QueueConfig{
		Stream:            infra.RedisStreamCommands,
		Group:             "bridge",
		Consumer:          "test-worker",
		DeadLetterStream:  infra.RedisStreamDeadLetter,
		BatchSize:         5,
		BlockTimeout:      20 * time.Millisecond,
		VisibilityTimeout: time.Hour,
		MaxReceiveCount:   6,
		HaltBackoff:       10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		mr:       mr,
		rdb:      rdb,
		cfg:      cfg,
		proc:     &fakeProcessor{haltAt: -1},
		auditor:  &recordingAuditor{},
		producer: NewProducer(rdb, cfg.Stream),
	}
	f.consumer = NewConsumer(rdb, cfg, f.proc, f.auditor, nil, zap.NewNop())
	require.NoError(t, f.consumer.EnsureGroup(context.Background()))
	return f
}

func (f *fixture) enqueue(t *testing.T, token string) string {
	t.Helper()
	id, err := f.producer.Enqueue(context.Background(), "grp-1", domain.MessageBody{
		TaskToken: token,
		Command:   domain.CommandGetIssueStatus,
		Payload:   json.RawMessage(`{"issue_key":"DZ-1"}`),
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) pending(t *testing.T) int64 {
	t.Helper()
	p, err := f.rdb.XPending(context.Background(), f.cfg.Stream, f.cfg.Group).Result()
	require.NoError(t, err)
	return p.Count
}

func TestEnsureGroup_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.consumer.EnsureGroup(context.Background()))
}

func TestPoll_DecodesAndAcknowledges(t *testing.T) {
	f := newFixture(t, nil)
	id1 := f.enqueue(t, "token-1")
	id2 := f.enqueue(t, "token-2")

	halted, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, halted)

	require.Len(t, f.proc.batches, 1)
	batch := f.proc.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, id1, batch[0].MessageID)
	assert.Equal(t, id2, batch[1].MessageID)
	assert.Equal(t, "grp-1", batch[0].GroupID)
	assert.Equal(t, "token-1", batch[0].ContinuationToken)
	assert.Equal(t, domain.CommandGetIssueStatus, batch[0].Command)
	assert.JSONEq(t, `{"issue_key":"DZ-1"}`, string(batch[0].Payload))
	assert.Equal(t, int64(1), batch[0].ReceiveCount)

	assert.Zero(t, f.pending(t))
}

func TestPoll_EmptyStream(t *testing.T) {
	f := newFixture(t, nil)

	halted, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, halted)
	assert.Zero(t, f.proc.seen())
}

func TestPoll_HaltLeavesSuffixPending(t *testing.T) {
	f := newFixture(t, nil)
	f.proc.haltAt = 1
	f.enqueue(t, "token-1")
	id2 := f.enqueue(t, "token-2")
	id3 := f.enqueue(t, "token-3")

	halted, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, halted)

	ext, err := f.rdb.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: f.cfg.Stream, Group: f.cfg.Group, Start: "-", End: "+", Count: 10,
	}).Result()
	require.NoError(t, err)
	require.Len(t, ext, 2)
	assert.Equal(t, id2, ext[0].ID)
	assert.Equal(t, id3, ext[1].ID)
}

func TestPoll_HaltedMessagesComeBeforeNewOnes(t *testing.T) {
	f := newFixture(t, func(c *infra.QueueConfig) { c.BatchSize = 2 })
	f.proc.haltAt = 0
	id1 := f.enqueue(t, "token-1")
	id2 := f.enqueue(t, "token-2")
	id3 := f.enqueue(t, "token-3")

	halted, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, halted)
	f.proc.haltAt = -1

	// Visibility timeout еще не истек, но остаток пачки идет раньше третьего сообщения
	_, err = f.consumer.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, f.proc.batches, 2)
	again := f.proc.batches[1]
	require.Len(t, again, 2)
	assert.Equal(t, id1, again[0].MessageID)
	assert.Equal(t, id2, again[1].MessageID)
	assert.Equal(t, int64(2), again[0].ReceiveCount)

	_, err = f.consumer.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, f.proc.batches, 3)
	require.Len(t, f.proc.batches[2], 1)
	assert.Equal(t, id3, f.proc.batches[2][0].MessageID)
	assert.Zero(t, f.pending(t))
}

func TestPoll_ReclaimsFromStaleConsumer(t *testing.T) {
	f := newFixture(t, func(c *infra.QueueConfig) { c.VisibilityTimeout = time.Millisecond })
	id := f.enqueue(t, "token-1")

	// Другой воркер прочитал запись и пропал, не подтвердив ее
	_, err := f.rdb.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group: f.cfg.Group, Consumer: "crashed-worker", Streams: []string{f.cfg.Stream, ">"}, Count: 10, Block: -1,
	}).Result()
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	halted, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, halted)

	require.Len(t, f.proc.batches, 1)
	require.Len(t, f.proc.batches[0], 1)
	assert.Equal(t, id, f.proc.batches[0][0].MessageID)
	assert.Equal(t, int64(2), f.proc.batches[0][0].ReceiveCount)
	assert.Zero(t, f.pending(t))
}

func TestPoll_DeadLettersAfterMaxReceiveCount(t *testing.T) {
	f := newFixture(t, func(c *infra.QueueConfig) { c.MaxReceiveCount = 1 })
	f.proc.haltAt = 0
	id := f.enqueue(t, "token-1")

	_, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)

	halted, err := f.consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, halted)

	// Второй раз в процессор сообщение не попало
	assert.Equal(t, 1, f.proc.seen())
	assert.Zero(t, f.pending(t))

	dlq, err := f.rdb.XRange(context.Background(), f.cfg.DeadLetterStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, id, dlq[0].Values["source_id"])
	assert.Equal(t, "2", dlq[0].Values["receive_count"])
	assert.Contains(t, dlq[0].Values["body"], "token-1")

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, audit.DispositionDeadLettered, f.auditor.events[0].Disposition)
	assert.Equal(t, id, f.auditor.events[0].MessageID)
}

func TestPoll_UndecodableGoesToDeadLetter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	badJSON, err := f.rdb.XAdd(ctx, &redis.XAddArgs{Stream: f.cfg.Stream, Values: map[string]any{"body": "{not json", "group_id": "g"}}).Result()
	require.NoError(t, err)
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{Stream: f.cfg.Stream, Values: map[string]any{"group_id": "g"}}).Result()
	require.NoError(t, err)
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{Stream: f.cfg.Stream, Values: map[string]any{"body": `{"Command":"CREATE_ISSUE"}`}}).Result()
	require.NoError(t, err)
	good := f.enqueue(t, "token-ok")

	halted, err := f.consumer.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, halted)

	require.Len(t, f.proc.batches, 1)
	require.Len(t, f.proc.batches[0], 1)
	assert.Equal(t, good, f.proc.batches[0][0].MessageID)

	dlq, err := f.rdb.XRange(ctx, f.cfg.DeadLetterStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dlq, 3)
	assert.Equal(t, badJSON, dlq[0].Values["source_id"])
	assert.Contains(t, dlq[0].Values["reason"], "not valid JSON")
	assert.Contains(t, dlq[1].Values["reason"], "no body")
	assert.Contains(t, dlq[2].Values["reason"], "TaskToken")
	assert.Zero(t, f.pending(t))
}

func TestPoll_UnknownCommandIsStillProcessed(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.producer.Enqueue(context.Background(), "g", domain.MessageBody{TaskToken: "t", Command: "DELETE_ISSUE"})
	require.NoError(t, err)

	_, err = f.consumer.Poll(context.Background())
	require.NoError(t, err)

	// Неизвестная команда — забота процессора: он отчитается FAILURE по токену
	require.Len(t, f.proc.batches, 1)
	assert.Equal(t, domain.Command("DELETE_ISSUE"), f.proc.batches[0][0].Command)
}

func TestPoll_RedisDown(t *testing.T) {
	f := newFixture(t, nil)
	f.mr.Close()

	_, err := f.consumer.Poll(context.Background())
	assert.Error(t, err)
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t, "token-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.consumer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.proc.seen() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.enqueue(t, "token-2")
	require.Eventually(t, func() bool { return f.proc.seen() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}
