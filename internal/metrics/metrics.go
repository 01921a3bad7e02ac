// Package metrics exports webhook and certificate cache telemetry to Prometheus.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "paywebhook"

// PrometheusObserver records delivery outcomes and certificate cache lookups.
type PrometheusObserver struct {
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	keyCache         *prometheus.CounterVec
}

// NewPrometheusObserver registers the collectors on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	observer := &PrometheusObserver{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by outcome and response status.",
		}, []string{"outcome", "status"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Time from receipt to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		keyCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_certificate_cache_lookups_total",
			Help:      "Signing certificate cache lookups by result.",
		}, []string{"result"}),
	}
	collectors := []prometheus.Collector{observer.deliveries, observer.deliveryDuration, observer.keyCache}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register webhook metric: %w", err)
		}
	}
	return observer, nil
}

// RecordDelivery counts a finished delivery.
func (o *PrometheusObserver) RecordDelivery(outcome string, status int, duration time.Duration) {
	if o == nil {
		return
	}
	o.deliveries.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
	o.deliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveKeyCache counts a certificate cache lookup.
func (o *PrometheusObserver) ObserveKeyCache(hit bool) {
	if o == nil {
		return
	}
	if hit {
		o.keyCache.WithLabelValues("hit").Inc()
		return
	}
	o.keyCache.WithLabelValues("miss").Inc()
}
