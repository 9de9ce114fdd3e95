package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
)

const (
	meterName = "github.com/wolfeidau/artifact-cache"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal           metric.Int64Counter
	responseBytesTotal      metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	cacheLookupsTotal       metric.Int64Counter
	hashMismatchesTotal     metric.Int64Counter
	publishSize             metric.Float64Histogram
	upstreamFetchDuration   metric.Float64Histogram
	upstreamFetchTotal      metric.Int64Counter
	upstreamFetchBytesTotal metric.Int64Counter
	backendRequestDuration  metric.Float64Histogram
	backendRequestsTotal    metric.Int64Counter
	backendBytesTotal       metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "artifact-cache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Build resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	// Setup OTLP exporter if endpoint configured
	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	// Setup Prometheus exporter if enabled
	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

var (
	latencyBuckets  = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	upstreamBuckets = append(append([]float64{}, latencyBuckets...), 20, 40, 60)
	backendBuckets  = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	sizeBuckets     = []float64{128, 512, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20, 64 << 20, 256 << 20, 1 << 30}
)

// instrumentBuilder creates instruments on a meter, keeping the first
// error so newMetrics can check once.
type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *instrumentBuilder) histogram(name, desc, unit string, bounds []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	b := &instrumentBuilder{meter: meter}
	m := &Metrics{
		requestsTotal:           b.counter("artifact_cache_http_requests_total", "HTTP requests served", "{request}"),
		responseBytesTotal:      b.counter("artifact_cache_http_response_bytes_total", "Bytes written in HTTP responses", "By"),
		requestDuration:         b.histogram("artifact_cache_http_request_duration_seconds", "HTTP request latency", "s", latencyBuckets),
		requestsByEndpointTotal: b.counter("artifact_cache_http_requests_by_endpoint_total", "HTTP requests by repository endpoint", "{request}"),

		cacheLookupsTotal:   b.counter("artifact_cache_lookups_total", "Local store lookups by result", "{lookup}"),
		hashMismatchesTotal: b.counter("artifact_cache_hash_mismatches_total", "Fetched artifacts rejected by hash verification", "{artifact}"),
		publishSize:         b.histogram("artifact_cache_publish_size_bytes", "Size of files published to the local store", "By", sizeBuckets),

		upstreamFetchDuration:   b.histogram("artifact_cache_upstream_fetch_duration_seconds", "Repository request latency", "s", upstreamBuckets),
		upstreamFetchTotal:      b.counter("artifact_cache_upstream_fetch_total", "Repository requests", "{request}"),
		upstreamFetchBytesTotal: b.counter("artifact_cache_upstream_fetch_bytes_total", "Bytes read from repositories", "By"),

		backendRequestDuration: b.histogram("artifact_cache_backend_request_duration_seconds", "Storage operation latency", "s", backendBuckets),
		backendRequestsTotal:   b.counter("artifact_cache_backend_requests_total", "Storage operations", "{request}"),
		backendBytesTotal:      b.counter("artifact_cache_backend_bytes_total", "Bytes moved by storage operations", "By"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records a completed request using the policy, endpoint and
// cache result tagged on r. Requests without tags count as bypass.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := RequestTags{Policy: "unknown", CacheResult: CacheBypass}
	if t := GetTags(r); t != nil {
		tags.Endpoint = t.Endpoint
		if t.Policy != "" {
			tags.Policy = t.Policy
		}
		if t.CacheResult != "" {
			tags.CacheResult = t.CacheResult
		}
	}

	shared := metric.WithAttributes(
		attribute.String("policy", tags.Policy),
		attribute.String("status_class", StatusClass(status)),
		attribute.String("cache_result", string(tags.CacheResult)),
	)
	globalMetrics.requestsTotal.Add(ctx, 1, shared)
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, shared)
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), shared)

	if tags.Endpoint == "" {
		return
	}
	globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", tags.Policy),
		attribute.String("endpoint", tags.Endpoint),
		attribute.String("status_class", StatusClass(status)),
		attribute.String("cache_result", string(tags.CacheResult)),
	))
}

// RecordCacheLookup records the result of a cache lookup for policy.
func RecordCacheLookup(ctx context.Context, policy string, result CacheResult) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("policy", policy),
		attribute.String("result", string(result)),
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordHashMismatch records content from repository that failed verification.
func RecordHashMismatch(ctx context.Context, policy, repository string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("policy", policy),
		attribute.String("repository", repository),
	}
	globalMetrics.hashMismatchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPublish records an artifact published to the local store.
func RecordPublish(ctx context.Context, policy string, size int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.publishSize.Record(ctx, float64(size), metric.WithAttributes(attribute.String("policy", policy)))
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordUpstreamFetch records an upstream fetch request.
func RecordUpstreamFetch(ctx context.Context, repository string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("repository", repository),
		attribute.String("outcome", outcome),
	}
	globalMetrics.upstreamFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.upstreamFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.upstreamFetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass buckets an HTTP status as "2xx" through "5xx".
func StatusClass(status int) string {
	if status < 200 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
