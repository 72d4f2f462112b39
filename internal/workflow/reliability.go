package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPDoer — то, что нужно транспорту от http.Client (в тестах подменяется).
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportSettings — бюджет повторов и параметры предохранителя.
type TransportSettings struct {
	Name     string
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBMaxFailures uint32

	OnStateChange func(name string, from, to gobreaker.State)
}

// Transport оборачивает HTTP вызовы к бэкенду: повторы на уровне соединения
// с экспоненциальной задержкой и Circuit Breaker поверх них.
// Повторяются только транспортные ошибки, любой HTTP ответ (включая 429) — окончательный.
type Transport struct {
	client   HTTPDoer
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	logger   *zap.Logger
}

func NewTransport(client HTTPDoer, st TransportSettings, logger *zap.Logger) *Transport {
	if st.Attempts == 0 {
		st.Attempts = 1
	}
	if st.CBMaxFailures == 0 {
		st.CBMaxFailures = 5
	}
	maxFailures := st.CBMaxFailures

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.CBMaxRequests,
		Interval:    st.CBInterval,
		Timeout:     st.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Отказ бэкенда (4xx) — не повод размыкать цепь, он нам ответил
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnreachable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if st.OnStateChange != nil {
				st.OnStateChange(name, from, to)
			}
		},
	})

	return &Transport{
		client:   client,
		cb:       cb,
		attempts: st.Attempts,
		delay:    st.Delay,
		maxDelay: st.MaxDelay,
		logger:   logger.With(zap.String("mod", "transport"), zap.String("backend", st.Name)),
	}
}

// Do выполняет запрос. newReq вызывается на каждую попытку, чтобы тело запроса читалось заново.
// 429 превращается в *ThrottleError, исчерпанные повторы — в *TransportError,
// разомкнутый предохранитель — в gobreaker.ErrOpenState.
func (t *Transport) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	res, err := t.cb.Execute(func() (interface{}, error) {
		var resp *http.Response

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(t.attempts),
			retry.Delay(t.delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				var tErr *TransportError
				return errors.As(err, &tErr)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				d := retry.BackOffDelay(n, err, config)
				if t.maxDelay > 0 && d > t.maxDelay {
					return t.maxDelay
				}
				return d
			}),
		)

		retryErr := r.Do(func() error {
			req, err := newReq(ctx)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			resp, err = t.client.Do(req)
			if err != nil {
				t.logger.Warn("backend call failed, will retry if budget allows", zap.Error(err))
				return &TransportError{Cause: err}
			}
			return nil
		})
		if retryErr != nil {
			return nil, retryErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			drain(resp.Body)
			return nil, &ThrottleError{
				RetryAfter: retryAfter,
				Cause:      fmt.Errorf("backend responded with %d", resp.StatusCode),
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return res.(*http.Response), nil
}

// State — текущее состояние предохранителя (для метрик и health).
func (t *Transport) State() gobreaker.State {
	return t.cb.State()
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
