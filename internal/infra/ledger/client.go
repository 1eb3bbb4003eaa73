package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotasigner/internal/domain"
	"quotasigner/internal/infra/metrics"

	"github.com/google/uuid"
)

const (
	opFetchQuotaStatus = "fetch_quota_status"
	opFetchDomainState = "fetch_domain_state"
	opDisableDomain    = "disable_domain"
	opIncrementQuota   = "increment_quota"
)

// Backend is a single-attempt view of the ledger. Returning domain.ErrNotFound
// is definitive; any other error is treated as transient.
type Backend interface {
	QuotaStatus(ctx context.Context, id domain.Identifier) (domain.QuotaStatus, error)
	DomainState(ctx context.Context, d domain.Identifier) (domain.DomainState, error)
	DisableDomain(ctx context.Context, d domain.Identifier) error
	// IncrementQuota applies amount at most once per idempotency key.
	IncrementQuota(ctx context.Context, kind domain.QuotaKind, id domain.Identifier, amount int64, idempotencyKey string) error
}

// Client wraps a Backend with per-attempt timeouts and bounded retries.
type Client struct {
	backend Backend
	policy  domain.RetryPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
	newKey  func() string
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newKey = fn
		}
	}
}

func NewClient(backend Backend, policy domain.RetryPolicy, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		policy:  policy,
		logger:  slog.Default(),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FetchQuotaStatus(ctx context.Context, id domain.Identifier) (domain.QuotaStatus, error) {
	return retry(ctx, c, opFetchQuotaStatus, func(ctx context.Context) (domain.QuotaStatus, error) {
		return c.backend.QuotaStatus(ctx, id)
	})
}

func (c *Client) FetchDomainState(ctx context.Context, d domain.Identifier) (domain.DomainState, error) {
	return retry(ctx, c, opFetchDomainState, func(ctx context.Context) (domain.DomainState, error) {
		return c.backend.DomainState(ctx, d)
	})
}

func (c *Client) DisableDomain(ctx context.Context, d domain.Identifier) error {
	_, err := retry(ctx, c, opDisableDomain, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.DisableDomain(ctx, d)
	})
	return err
}

func (c *Client) IncrementQuota(ctx context.Context, kind domain.QuotaKind, id domain.Identifier, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: increment amount must be positive", domain.ErrValidation)
	}
	key := c.newKey()
	_, err := retry(ctx, c, opIncrementQuota, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.IncrementQuota(ctx, kind, id, amount, key)
	})
	return err
}

func retry[T any](ctx context.Context, c *Client, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil || c.backend == nil {
		return zero, fmt.Errorf("%w: ledger client not configured", domain.ErrLedgerUnavailable)
	}
	attempts := c.policy.Attempts()
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			if err := sleep(ctx, c.policy.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		start := time.Now()
		out, err := attempt(ctx, c.policy.Timeout, call)
		elapsed := time.Since(start)
		if err == nil {
			c.metrics.ObserveLedgerAttempt(op, "ok", elapsed)
			return out, nil
		}
		if isDefinitive(err) {
			c.metrics.ObserveLedgerAttempt(op, "definitive", elapsed)
			return zero, err
		}
		c.metrics.ObserveLedgerAttempt(op, "transient", elapsed)
		c.logger.Warn("ledger call failed",
			"op", op,
			"attempt", n,
			"max_attempts", attempts,
			"error", err,
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	c.metrics.ObserveLedgerUnavailable(op)
	return zero, fmt.Errorf("%w: %s: %w", domain.ErrLedgerUnavailable, op, lastErr)
}

type result[T any] struct {
	value T
	err   error
}

// attempt bounds one call by timeout even when the backend ignores its
// context; the result of an abandoned attempt is dropped.
func attempt[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan result[T], 1)
	go func() {
		value, err := call(attemptCtx)
		done <- result[T]{value: value, err: err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		var zero T
		return zero, attemptCtx.Err()
	}
}

func isDefinitive(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.Ledger = (*Client)(nil)
