package atmledger

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

var (
	_ Service = (*validationMiddleware)(nil)
)

type Middleware func(Service) Service

// Chain wraps svc so that the first middleware is the outermost.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

type validationMiddleware struct {
	next Service
}

// validAmount rejects non-positive amounts and amounts that do not fit a
// float64, since balances are reported as JSON numbers.
func validAmount(amt decimal.Decimal) bool {
	return amt.IsPositive() && !math.IsInf(amt.InexactFloat64(), 0)
}

func (v *validationMiddleware) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	if !validAmount(req.Amount) {
		return nil, ErrInvalidAmount{Amount: req.Amount}
	}
	return v.next.Deposit(ctx, req)
}

func (v *validationMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	if !validAmount(req.Amount) {
		return nil, ErrInvalidAmount{Amount: req.Amount}
	}
	return v.next.Withdraw(ctx, req)
}

func (v *validationMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	return v.next.Balance(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	return v.next.Statement(ctx, w, req)
}

func NewValidationMiddleware() Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{
			next: svc,
		}
	}
}

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests to the service by using
// a weighted semaphore, i.e., x/sync/semaphore.Semaphore with an acquisition timeout.
// As limits are static and servers may be deployed to a heterogeneous set of machines,
// hence, having to manually tune limits for each server, this solution is something
// likely implemented very differently in a real-world application, but it is a good
// example of load shedding.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Deposit   *semaphore.Weighted
	Withdraw  *semaphore.Weighted
	Balance   *semaphore.Weighted
	Statement *semaphore.Weighted
	// AcquireTimeout bounds the wait for a token.
	AcquireTimeout time.Duration
}

func NewServiceLimits(cfg *Config) *ServiceLimits {
	return &ServiceLimits{
		Deposit:        semaphore.NewWeighted(cfg.Limits.Deposit),
		Withdraw:       semaphore.NewWeighted(cfg.Limits.Withdraw),
		Balance:        semaphore.NewWeighted(cfg.Limits.Balance),
		Statement:      semaphore.NewWeighted(cfg.Limits.Statement),
		AcquireTimeout: cfg.Limits.AcquireTimeout,
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted, op string) (func(), error) {
	actx, cancel := context.WithTimeout(ctx, l.limits.AcquireTimeout)
	defer cancel()
	if err := sem.Acquire(actx, 1); err != nil {
		return nil, fmt.Errorf("%w: %s limit reached: %w", ErrUnavailable, op, err)
	}
	return func() { sem.Release(1) }, nil
}

func (l *limitMiddleware) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Deposit, "deposit")
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Deposit(ctx, req)
}

func (l *limitMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Withdraw, "withdraw")
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Withdraw(ctx, req)
}

func (l *limitMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Balance, "balance")
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Balance(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	release, err := l.acquire(ctx, l.limits.Statement, "statement")
	if err != nil {
		return err
	}
	defer release()
	return l.next.Statement(ctx, w, req)
}

type ServiceBreaker struct {
	Deposit   *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Withdraw  *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Balance   *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Statement *gobreaker.TwoStepCircuitBreaker[any]
}

// NewServiceBreaker builds one breaker per operation. Trips after
// FailureThreshold consecutive server-side failures; client errors such as
// insufficient funds never count against it.
func NewServiceBreaker(cfg *Config, m *Metrics, log *zerolog.Logger) *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state change")
				if m != nil {
					m.Breaker.WithLabelValues(name).Set(float64(to))
				}
			},
		}
	}
	return &ServiceBreaker{
		Deposit:   gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](settings("deposit")),
		Withdraw:  gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](settings("withdraw")),
		Balance:   gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](settings("balance")),
		Statement: gobreaker.NewTwoStepCircuitBreaker[any](settings("statement")),
	}
}

// circuitBreakMiddleware is a middleware that implements the circuit breaker pattern.
// It works in conjunction with limitMiddleware to limit the number of in-flight
// requests to the service when the circuit is not in `closed` state, i.e., the service
// is experiencing heavy load and is struggling to release tokens from the limit
// semaphores within request deadline
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

type allower interface {
	Allow() (func(bool), error)
}

func guard(cb allower, op string, call func() error) error {
	done, err := cb.Allow()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	err = call()
	done(!KindOf(err).ServerSide())
	return err
}

func (c *circuitBreakMiddleware) Deposit(ctx context.Context, req ChargeReq) (bal *decimal.Decimal, err error) {
	err = guard(c.brkrs.Deposit, "deposit", func() error {
		bal, err = c.next.Deposit(ctx, req)
		return err
	})
	return bal, err
}

func (c *circuitBreakMiddleware) Withdraw(ctx context.Context, req ChargeReq) (bal *decimal.Decimal, err error) {
	err = guard(c.brkrs.Withdraw, "withdraw", func() error {
		bal, err = c.next.Withdraw(ctx, req)
		return err
	})
	return bal, err
}

func (c *circuitBreakMiddleware) Balance(ctx context.Context, req BalanceReq) (bal *decimal.Decimal, err error) {
	err = guard(c.brkrs.Balance, "balance", func() error {
		bal, err = c.next.Balance(ctx, req)
		return err
	})
	return bal, err
}

func (c *circuitBreakMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	return guard(c.brkrs.Statement, "statement", func() error {
		return c.next.Statement(ctx, w, req)
	})
}

type metricsMiddleware struct {
	next    Service
	metrics *Metrics
}

var (
	_ Service = (*metricsMiddleware)(nil)
)

func NewMetricsMiddleware(m *Metrics) Middleware {
	return func(next Service) Service {
		return &metricsMiddleware{
			next:    next,
			metrics: m,
		}
	}
}

func (mm *metricsMiddleware) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	start := time.Now()
	bal, err := mm.next.Deposit(ctx, req)
	mm.metrics.observe("deposit", start, err)
	return bal, err
}

func (mm *metricsMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	start := time.Now()
	bal, err := mm.next.Withdraw(ctx, req)
	mm.metrics.observe("withdraw", start, err)
	return bal, err
}

func (mm *metricsMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	start := time.Now()
	bal, err := mm.next.Balance(ctx, req)
	mm.metrics.observe("balance", start, err)
	return bal, err
}

func (mm *metricsMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	start := time.Now()
	err := mm.next.Statement(ctx, w, req)
	mm.metrics.observe("statement", start, err)
	return err
}
