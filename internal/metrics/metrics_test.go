package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserverCountsDeliveries(test *testing.T) {
	test.Parallel()
	registry := prometheus.NewRegistry()
	observer, err := NewPrometheusObserver("test", registry)
	if err != nil {
		test.Fatalf("observer: %v", err)
	}

	observer.RecordDelivery("applied", 200, 10*time.Millisecond)
	observer.RecordDelivery("applied", 200, 20*time.Millisecond)
	observer.RecordDelivery("transientFailure", 503, time.Second)
	observer.ObserveKeyCache(true)
	observer.ObserveKeyCache(false)
	observer.ObserveKeyCache(true)

	if got := testutil.ToFloat64(observer.deliveries.WithLabelValues("applied", "200")); got != 2 {
		test.Fatalf("expected 2 applied deliveries, got %v", got)
	}
	if got := testutil.ToFloat64(observer.deliveries.WithLabelValues("transientFailure", "503")); got != 1 {
		test.Fatalf("expected 1 transient failure, got %v", got)
	}
	if got := testutil.ToFloat64(observer.keyCache.WithLabelValues("hit")); got != 2 {
		test.Fatalf("expected 2 cache hits, got %v", got)
	}
	expected := `
# HELP test_signing_certificate_cache_lookups_total Signing certificate cache lookups by result.
# TYPE test_signing_certificate_cache_lookups_total counter
test_signing_certificate_cache_lookups_total{result="hit"} 2
test_signing_certificate_cache_lookups_total{result="miss"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_signing_certificate_cache_lookups_total"); err != nil {
		test.Fatalf("unexpected exposition: %v", err)
	}
}

func TestPrometheusObserverRejectsDoubleRegistration(test *testing.T) {
	test.Parallel()
	registry := prometheus.NewRegistry()
	if _, err := NewPrometheusObserver("", registry); err != nil {
		test.Fatalf("first registration: %v", err)
	}
	_, err := NewPrometheusObserver("", registry)
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if !errors.As(err, &alreadyRegistered) {
		test.Fatalf("expected AlreadyRegisteredError, got %v", err)
	}
}

func TestNilObserverIsSafe(test *testing.T) {
	test.Parallel()
	var observer *PrometheusObserver
	observer.RecordDelivery("applied", 200, time.Millisecond)
	observer.ObserveKeyCache(true)
}
