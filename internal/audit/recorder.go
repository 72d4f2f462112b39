package audit

/*
Recorder — журнал исходов обработки команд (Audit Trail).

- Запись не блокирует обработку: событие кладется в буферизированный канал,
  при переполнении отбрасывается с ошибкой в логе (Load Shedding).
- Воркер копит события и пишет пачкой по таймеру или по достижении batchSize.
- Stop закрывает канал и ждет, пока воркер вычитает остаток и сделает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const batchSize = 100

// Storage — куда физически сохраняются события
type Storage interface {
	WriteBatch(ctx context.Context, events []OutcomeEvent) error
}

type Auditor interface {
	Record(event OutcomeEvent)
}

type Options struct {
	BufferSize    int
	FlushInterval time.Duration
	// BufferFill — заполненность буфера, может быть nil
	BufferFill prometheus.Gauge
}

type Recorder struct {
	ch       chan OutcomeEvent
	repo     Storage
	interval time.Duration
	fill     prometheus.Gauge
	logger   *zap.Logger
	wg       sync.WaitGroup
	isClosed int32 // 0 - открыт, 1 - закрыт
}

func NewRecorder(repo Storage, opts Options, logger *zap.Logger) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &Recorder{
		ch:       make(chan OutcomeEvent, opts.BufferSize),
		repo:     repo,
		interval: opts.FlushInterval,
		fill:     opts.BufferFill,
		logger:   logger.With(zap.String("mod", "audit")),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	if !atomic.CompareAndSwapInt32(&r.isClosed, 0, 1) {
		return
	}

	// Даем текущим Record проскочить в канал
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping recorder: closing channel and flushing buffer")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("recorder stopped gracefully")
}

func (r *Recorder) Record(event OutcomeEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit event dropped: recorder is stopping", zap.String("message_id", event.MessageID))
		return
	}

	select {
	case r.ch <- event:
		r.observeFill()
	default:
		// Backpressure: сам исход не теряем, он остается в логах
		r.logger.Error("audit_buffer_overflow",
			zap.String("message_id", event.MessageID),
			zap.String("disposition", string(event.Disposition)),
			zap.String("reason", event.Reason))
	}
}

func (r *Recorder) observeFill() {
	if r.fill != nil {
		r.fill.Set(float64(len(r.ch)))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]OutcomeEvent, 0, batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст при остановке уже отменен
		if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
			r.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		r.observeFill()
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Discard — аудит выключен.
type Discard struct{}

func (Discard) Record(OutcomeEvent) {}
