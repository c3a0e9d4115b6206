// Package coordinator guards vendor clients with per-vendor rate limiting, error
// classification and single-flight session refresh.
package coordinator

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/observability"
	"github.com/coachpo/wgg/internal/infra/telemetry"
)

const (
	opAutocomplete     = "autocomplete"
	opSearch           = "search"
	opProduct          = "product"
	opPromotions       = "promotions"
	opPromotionDetail  = "promotion_detail"
	opLogin            = "login"
	defaultLoginBudget = 30 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLimiter sets the vendor token bucket.
func WithLimiter(l *Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// WithAuthenticator overrides the session refresher. By default the client itself is used
// when it implements vendor.Authenticator.
func WithAuthenticator(a vendor.Authenticator) Option {
	return func(c *Coordinator) { c.auth = a }
}

// WithLogger sets the coordinator logger.
func WithLogger(l observability.Logger) Option {
	return func(c *Coordinator) { c.logger = observability.OrNop(l) }
}

// WithLoginTimeout bounds a single re-login attempt.
func WithLoginTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.loginTimeout = d
		}
	}
}

// Coordinator implements vendor.Client on top of another client.
//
// When a call fails with an expired session, exactly one re-login runs per failure episode no
// matter how many callers observe the failure. Each caller then retries its request once.
// Callers whose request started before a re-login that has since completed skip the login and
// retry directly.
type Coordinator struct {
	vendor       product.Vendor
	client       vendor.Client
	auth         vendor.Authenticator
	limiter      *Limiter
	logger       observability.Logger
	loginTimeout time.Duration

	refresh    singleflight.Group
	generation atomic.Uint64

	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	throttled metric.Int64Counter
	relogins  metric.Int64Counter
}

var _ vendor.Client = (*Coordinator)(nil)

// New wraps client for vendor v.
func New(v product.Vendor, client vendor.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		vendor:       v,
		client:       client,
		logger:       observability.Nop(),
		loginTimeout: defaultLoginBudget,
	}
	if auth, ok := client.(vendor.Authenticator); ok {
		c.auth = auth
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.initMetrics()
	return c
}

// Vendor returns the vendor this coordinator guards.
func (c *Coordinator) Vendor() product.Vendor { return c.vendor }

// Generation returns the number of completed re-logins.
func (c *Coordinator) Generation() uint64 { return c.generation.Load() }

// Autocomplete implements vendor.Client.
func (c *Coordinator) Autocomplete(ctx context.Context, query string) ([]product.Suggestion, error) {
	return call(ctx, c, opAutocomplete, func(ctx context.Context) ([]product.Suggestion, error) {
		return c.client.Autocomplete(ctx, query)
	})
}

// Search implements vendor.Client.
func (c *Coordinator) Search(ctx context.Context, query string, offset int) (product.SearchPage, error) {
	return call(ctx, c, opSearch, func(ctx context.Context) (product.SearchPage, error) {
		return c.client.Search(ctx, query, offset)
	})
}

// Product implements vendor.Client.
func (c *Coordinator) Product(ctx context.Context, id string) (product.FullProduct, error) {
	return call(ctx, c, opProduct, func(ctx context.Context) (product.FullProduct, error) {
		return c.client.Product(ctx, id)
	})
}

// Promotions implements vendor.Client.
func (c *Coordinator) Promotions(ctx context.Context) ([]promotion.Category, error) {
	return call(ctx, c, opPromotions, func(ctx context.Context) ([]promotion.Category, error) {
		return c.client.Promotions(ctx)
	})
}

// PromotionDetail implements vendor.Client.
func (c *Coordinator) PromotionDetail(ctx context.Context, id string) (promotion.SaleGroupFull, error) {
	return call(ctx, c, opPromotionDetail, func(ctx context.Context) (promotion.SaleGroupFull, error) {
		return c.client.PromotionDetail(ctx, id)
	})
}

// Login establishes a session through the same single-flight path used on expiry. It is a
// no-op for vendors without authentication.
func (c *Coordinator) Login(ctx context.Context) error {
	if c.auth == nil {
		return nil
	}
	return c.relogin(ctx, c.generation.Load())
}

func call[T any](ctx context.Context, c *Coordinator, op string, fn func(context.Context) (T, error)) (T, error) {
	observed := c.generation.Load()
	out, err := attempt(ctx, c, op, fn)
	if err == nil || c.auth == nil || !errs.Is(err, errs.CodeAuthExpired) {
		return out, err
	}
	if rerr := c.relogin(ctx, observed); rerr != nil {
		var zero T
		return zero, rerr
	}
	return attempt(ctx, c, op, fn)
}

func attempt[T any](ctx context.Context, c *Coordinator, op string, fn func(context.Context) (T, error)) (T, error) {
	waited, err := c.limiter.Wait(ctx)
	if waited {
		c.add(ctx, c.throttled, telemetry.AttrOperation.String(op))
	}
	if err != nil {
		var zero T
		return zero, err
	}
	start := time.Now()
	out, err := fn(ctx)
	err = errs.Classify(string(c.vendor), op, err)
	opAttrs := []attribute.KeyValue{
		telemetry.AttrOperation.String(op),
		telemetry.AttrResult.String(resultOf(err)),
	}
	c.add(ctx, c.requests, opAttrs...)
	if c.latency != nil {
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		c.latency.Record(context.WithoutCancel(ctx), elapsed,
			metric.WithAttributes(telemetry.VendorAttrs(c.vendor.String(), opAttrs...)...))
	}
	return out, err
}

// relogin refreshes the session unless a refresh completed after observed was read.
func (c *Coordinator) relogin(ctx context.Context, observed uint64) error {
	if c.generation.Load() != observed {
		return nil
	}
	ch := c.refresh.DoChan(string(c.vendor), func() (any, error) {
		if c.generation.Load() != observed {
			return nil, nil
		}
		// Joined callers share this login; one caller's cancellation must not fail the rest.
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout)
		defer cancel()
		start := time.Now()
		if err := c.auth.Login(loginCtx); err != nil {
			c.add(ctx, c.relogins, telemetry.AttrResult.String("error"))
			c.logger.Warn("vendor re-login failed",
				observability.String("vendor", c.vendor.String()),
				observability.Err(err),
			)
			return nil, errs.Classify(string(c.vendor), opLogin, err)
		}
		c.generation.Add(1)
		c.add(ctx, c.relogins, telemetry.AttrResult.String("ok"))
		c.logger.Info("vendor session refreshed",
			observability.String("vendor", c.vendor.String()),
			observability.Duration("elapsed", time.Since(start)),
		)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := errs.CodeOf(err); ok {
		return string(code)
	}
	return "error"
}

func (c *Coordinator) initMetrics() {
	meter := otel.Meter("wgg.coordinator")
	if counter, err := meter.Int64Counter("wgg_vendor_requests",
		metric.WithDescription("Vendor calls by operation and result"),
		metric.WithUnit("{request}")); err == nil {
		c.requests = counter
	}
	if hist, err := meter.Float64Histogram(telemetry.MetricVendorRequestDuration,
		metric.WithDescription("Vendor call latency by operation and result"),
		metric.WithUnit("ms")); err == nil {
		c.latency = hist
	}
	if counter, err := meter.Int64Counter("wgg_vendor_throttled",
		metric.WithDescription("Vendor calls that waited on the rate limiter"),
		metric.WithUnit("{request}")); err == nil {
		c.throttled = counter
	}
	if counter, err := meter.Int64Counter("wgg_vendor_relogins",
		metric.WithDescription("Vendor session refreshes by result"),
		metric.WithUnit("{login}")); err == nil {
		c.relogins = counter
	}
}

func (c *Coordinator) add(ctx context.Context, counter metric.Int64Counter, extra ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	attrs := telemetry.VendorAttrs(c.vendor.String(), extra...)
	counter.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attrs...))
}
