// Package telemetry provides OpenTelemetry initialization and semantic conventions.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

const (
	serviceName    = "wgg"
	serviceVersion = "1.0.0"
)

// Attribute keys shared by wgg metrics.
const (
	// AttrVendor identifies which upstream grocery vendor produced the signal.
	AttrVendor = attribute.Key("vendor")
	// AttrCacheKind differentiates full vs search product cache entries.
	AttrCacheKind = attribute.Key("cache.kind")
	// AttrOperation differentiates vendor operations (product, search, promotions, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrJob labels scheduler metrics by job name.
	AttrJob = attribute.Key("job.name")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Histogram names with explicit bucket layouts, see histogramViews.
const (
	MetricVendorRequestDuration     = "wgg_vendor_request_duration"
	MetricPromotionsRefreshDuration = "wgg_promotions_refresh_duration"
)

var globalEnvironment string

// Config defines OpenTelemetry configuration parameters.
type Config struct {
	Enabled        bool
	OTLPEndpoint   string
	OTLPInsecure   bool
	MetricInterval time.Duration
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// DefaultConfig returns a disabled configuration with sane intervals.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4318",
		OTLPInsecure:   true,
		MetricInterval: 30 * time.Second,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    "development",
	}
}

// Provider manages the OpenTelemetry meter provider (metrics only).
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// NewProvider initializes a telemetry provider. A disabled config leaves the global
// no-op meter provider in place.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	globalEnvironment = strings.ToLower(cfg.Environment)
	if !cfg.Enabled {
		return &Provider{meterProvider: nil, config: cfg}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.OTLPEndpoint))}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithView(histogramViews()...),
	)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, config: cfg}, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

// Meter returns a meter with the given name.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p == nil || p.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return p.meterProvider.Meter(name, opts...)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = serviceName
	}
	version := cfg.ServiceVersion
	if version == "" {
		version = serviceVersion
	}
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(AttrEnvironment.String(strings.ToLower(cfg.Environment))))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	return res, nil
}

// Vendor calls are single HTTP round trips; promotion refreshes fan out to a detail
// fetch per added sale group. Both are recorded in milliseconds.
var histogramBuckets = map[string][]float64{
	MetricVendorRequestDuration:     {5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	MetricPromotionsRefreshDuration: {10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
}

func histogramViews() []sdkmetric.View {
	views := make([]sdkmetric.View, 0, len(histogramBuckets))
	for name, bounds := range histogramBuckets {
		views = append(views, sdkmetric.NewView(
			sdkmetric.Instrument{Name: name, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
		))
	}
	return views
}

// stripScheme removes http:// or https:// prefix from endpoint URL.
// OTLP HTTP exporters expect just host:port, not a full URL with scheme.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint
}

// Environment returns the configured environment name for use in metric labels.
func Environment() string {
	if globalEnvironment == "" {
		return "development"
	}
	return globalEnvironment
}

// VendorAttrs returns the common attribute set for per-vendor metrics.
func VendorAttrs(vendor string, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2+len(extra))
	attrs = append(attrs, AttrEnvironment.String(Environment()), AttrVendor.String(vendor))
	return append(attrs, extra...)
}
