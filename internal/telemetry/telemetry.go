// Package telemetry provides Prometheus metrics, OpenTelemetry tracing, and
// structured logging helpers shared across the ingestion pipeline. Grounded
// on the teacher's monitoring/monitoring.go: one namespace, CounterVec/
// HistogramVec/GaugeVec registered at init, chi-middleware-friendly HTTP
// instrumentation, and an OTel tracer provider with an optional OTLP
// exporter.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	github_chi_mw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hut8/soar-ingest/internal/envelope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "soaringest"

var (
	// logging level: 0=info, 1=debug
	logLevel int32

	// ErrorsTotal carries one row per §7 error-kind, labeled by kind and
	// the component that counted it (queue, decoder, tracker, ...).
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors encountered, labeled by kind and component",
		},
		[]string{"kind", "component"},
	)

	// FixesProcessed counts fixes that passed validation and were persisted.
	FixesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fixes",
			Name:      "processed_total",
			Help:      "Total fixes persisted by the fix processor",
		},
		[]string{"source"},
	)

	// FixesRejected counts fixes dropped during validation, labeled by reason.
	FixesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fixes",
			Name:      "rejected_total",
			Help:      "Total fixes rejected before persistence",
		},
		[]string{"source", "reason"},
	)

	// AGLAttached/AGLMissed count elevation lookups by outcome.
	AGLAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fixes",
			Name:      "agl_attached_total",
			Help:      "Total fixes where altitude_agl_ft was derived from an elevation hit",
		},
		[]string{"source"},
	)

	AGLMissed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fixes",
			Name:      "agl_missed_total",
			Help:      "Total fixes where no elevation tile covered the coordinate",
		},
		[]string{"source"},
	)

	// FlightsOpened/FlightsClosed track the tracker's takeoff/landing rate.
	FlightsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "flights_opened_total",
			Help:      "Total flights opened on takeoff detection",
		},
		[]string{},
	)

	FlightsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "flights_closed_total",
			Help:      "Total flights sealed, labeled by close reason",
		},
		[]string{"reason"},
	)

	// QueueDepth reports the persistent queue's current unconsumed record count.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Unconsumed records in the persistent queue",
		},
		[]string{"queue"},
	)

	// StageDuration times each pipeline stage (decode, fix-processing, tracker).
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a pipeline stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// HTTP server metrics, for the admin API.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EnvelopeLag measures receive-time-to-dequeue latency per source, the
	// router's view of how far behind the consumer side is running.
	EnvelopeLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "envelope_lag_seconds",
			Help:      "Time between envelope receive and router dispatch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// DecodeDispatchBlocked counts times the router had to block because a
	// per-source decode channel was full (backpressure, §5).
	DecodeDispatchBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decode_dispatch_blocked_total",
			Help:      "Total times envelope dispatch blocked on a full decode channel",
		},
		[]string{"source"},
	)

	// MalformedEnvelope counts envelopes that failed to decode off the queue.
	MalformedEnvelope = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "malformed_envelope_total",
			Help:      "Total envelopes that failed to decode",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ErrorsTotal,
		FixesProcessed,
		FixesRejected,
		AGLAttached,
		AGLMissed,
		FlightsOpened,
		FlightsClosed,
		QueueDepth,
		StageDuration,
		HTTPRequests,
		HTTPDuration,
		EnvelopeLag,
		DecodeDispatchBlocked,
		MalformedEnvelope,
	)
	SetLogLevel("info")
}

// SetLogLevel switches between info and debug logging.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		atomic.StoreInt32(&logLevel, 1)
		log.Printf("log_level=debug")
	case "info", "":
		atomic.StoreInt32(&logLevel, 0)
		log.Printf("log_level=info")
	default:
		atomic.StoreInt32(&logLevel, 0)
		log.Printf("log_level=info (unknown level %q)", level)
	}
}

func IsDebug() bool { return atomic.LoadInt32(&logLevel) == 1 }

func Debugf(format string, args ...interface{}) {
	if IsDebug() {
		log.Printf("DEBUG "+format, args...)
	}
}

// CountError records one occurrence of a §7 error kind from the given
// component (e.g. "ogn_decoder", "queue", "storage").
func CountError(kind, component string) {
	ErrorsTotal.WithLabelValues(kind, component).Inc()
}

// ObserveStage records the wall-clock duration of one pipeline stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Metrics adapts the package-level counters to the narrow interfaces
// consumed by internal/fixes and internal/router, so those packages never
// import internal/telemetry's concrete Prometheus types directly.
// IncFlightOpened and IncFlightClosed have no caller: internal/tracker
// takes no metrics interface.
type Metrics struct{}

func (Metrics) IncFixesProcessed(source string) { FixesProcessed.WithLabelValues(source).Inc() }
func (Metrics) IncFixesRejected(source, reason string) {
	FixesRejected.WithLabelValues(source, reason).Inc()
}
func (Metrics) IncAGLAttached(source string) { AGLAttached.WithLabelValues(source).Inc() }
func (Metrics) IncAGLMissed(source string)   { AGLMissed.WithLabelValues(source).Inc() }
func (Metrics) IncFlightOpened()             { FlightsOpened.WithLabelValues().Inc() }
func (Metrics) IncFlightClosed(reason string) { FlightsClosed.WithLabelValues(reason).Inc() }

// ObserveLag, IncDecodeDispatchBlocked, and IncMalformedEnvelope satisfy
// internal/router.Metrics.
func (Metrics) ObserveLag(source envelope.Source, lag time.Duration) {
	EnvelopeLag.WithLabelValues(source.String()).Observe(lag.Seconds())
}

func (Metrics) IncDecodeDispatchBlocked(source envelope.Source) {
	DecodeDispatchBlocked.WithLabelValues(source.String()).Inc()
}

func (Metrics) IncMalformedEnvelope() { MalformedEnvelope.Inc() }

// ============ HTTP middleware ============

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments all HTTP traffic on the admin API.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rr, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path
		HTTPDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPRequests.WithLabelValues(r.Method, path, http.StatusText(rr.status)).Inc()
	})
}

// PrometheusHandler exposes registered metrics for scraping.
func PrometheusHandler() http.Handler { return promhttp.Handler() }

// ============ Tracing ============

var tracer = otel.Tracer("soaringest")

// InitTracer initializes the OpenTelemetry tracer provider. With an empty
// endpoint it installs a provider with no exporter (spans are created but
// never shipped), matching the teacher's no-op-when-unconfigured behavior.
func InitTracer(endpoint string, serviceName string) func() {
	ctx := context.Background()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if endpoint == "" {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(serviceName),
			)),
		)
		otel.SetTracerProvider(tp)
		return func() { _ = tp.Shutdown(ctx) }
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		log.Printf("failed to create OTEL exporter: %v", err)
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer: %v", err)
		}
	}
}

// StartSpan starts a span for a pipeline stage (decode, fix-processing, ...).
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// TracingMiddleware creates a server span for each admin API request,
// extracting any incoming W3C TraceContext/Baggage headers.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prop := otel.GetTextMapPropagator()
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanName := r.Method + " " + r.URL.Path
		ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			semconv.HTTPMethodKey.String(r.Method),
			semconv.URLPathKey.String(r.URL.Path),
		)
		if rid := github_chi_mw.GetReqID(r.Context()); rid != "" {
			span.SetAttributes(attribute.String("http.request_id", rid))
		}
		if sc := span.SpanContext(); sc.IsValid() {
			w.Header().Set("X-Trace-Id", sc.TraceID().String())
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one structured log line per admin API request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start)
		traceID, spanID := "", ""
		if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
			spanID = sc.SpanID().String()
		}
		rid := github_chi_mw.GetReqID(r.Context())

		log.Printf("http_request method=%s path=%q status=%d duration=%s trace_id=%s span_id=%s request_id=%s",
			r.Method, r.URL.Path, rr.status, dur, traceID, spanID, rid)
	})
}
