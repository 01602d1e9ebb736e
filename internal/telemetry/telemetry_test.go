package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hut8/soar-ingest/internal/envelope"
)

func TestCountErrorIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("frame_corruption", "ogn_decoder"))
	CountError("frame_corruption", "ogn_decoder")
	after := testutil.ToFloat64(ErrorsTotal.WithLabelValues("frame_corruption", "ogn_decoder"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %f -> %f", before, after)
	}
}

func TestMetricsAdapterIncrementsFixesCounters(t *testing.T) {
	var m Metrics
	before := testutil.ToFloat64(FixesProcessed.WithLabelValues("ADSB"))
	m.IncFixesProcessed("ADSB")
	after := testutil.ToFloat64(FixesProcessed.WithLabelValues("ADSB"))
	if after != before+1 {
		t.Fatalf("expected fixes_processed to increment, got %f -> %f", before, after)
	}

	beforeR := testutil.ToFloat64(FixesRejected.WithLabelValues("ADSB", "invalid"))
	m.IncFixesRejected("ADSB", "invalid")
	afterR := testutil.ToFloat64(FixesRejected.WithLabelValues("ADSB", "invalid"))
	if afterR != beforeR+1 {
		t.Fatalf("expected fixes_rejected to increment, got %f -> %f", beforeR, afterR)
	}
}

func TestSetLogLevelTogglesDebug(t *testing.T) {
	SetLogLevel("debug")
	if !IsDebug() {
		t.Fatal("expected debug mode after SetLogLevel(\"debug\")")
	}
	SetLogLevel("info")
	if IsDebug() {
		t.Fatal("expected info mode after SetLogLevel(\"info\")")
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	count := testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/widgets", http.StatusText(http.StatusTeapot)))
	if count < 1 {
		t.Fatalf("expected HTTPRequests to be incremented, got %f", count)
	}
}

func TestMetricsAdapterSatisfiesRouterMetrics(t *testing.T) {
	var m Metrics
	beforeSamples := testutil.CollectAndCount(EnvelopeLag)
	m.ObserveLag(envelope.SourceOGN, 50*time.Millisecond)
	afterSamples := testutil.CollectAndCount(EnvelopeLag)
	if afterSamples <= beforeSamples {
		t.Fatalf("expected a new envelope_lag observation, count %d -> %d", beforeSamples, afterSamples)
	}

	beforeBlocked := testutil.ToFloat64(DecodeDispatchBlocked.WithLabelValues("BEAST"))
	m.IncDecodeDispatchBlocked(envelope.SourceBeast)
	afterBlocked := testutil.ToFloat64(DecodeDispatchBlocked.WithLabelValues("BEAST"))
	if afterBlocked != beforeBlocked+1 {
		t.Fatalf("expected decode_dispatch_blocked to increment, got %f -> %f", beforeBlocked, afterBlocked)
	}

	beforeMalformed := testutil.ToFloat64(MalformedEnvelope)
	m.IncMalformedEnvelope()
	afterMalformed := testutil.ToFloat64(MalformedEnvelope)
	if afterMalformed != beforeMalformed+1 {
		t.Fatalf("expected malformed_envelope to increment, got %f -> %f", beforeMalformed, afterMalformed)
	}
}

func TestInitTracerWithEmptyEndpointInstallsNoopProvider(t *testing.T) {
	shutdown := InitTracer("", "soaringest-test")
	defer shutdown()

	_, span := StartSpan(context.Background(), "test-span")
	span.End()
}

func TestTracingMiddlewareSetsTraceIDHeader(t *testing.T) {
	shutdown := InitTracer("", "soaringest-test")
	defer shutdown()

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatal("expected an X-Trace-Id response header")
	}
}
