package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "audit_service"

// Consumer label values.
const (
	ConsumerMain       = "main"
	ConsumerDeadLetter = "deadletter"
)

// Disposition label values.
const (
	DispositionAck    = "ack"
	DispositionReject = "reject"
)

// Audit write result label values.
const (
	AuditNew       = "new"
	AuditOverwrite = "overwrite"
	AuditError     = "error"
)

// Metrics holds the worker's collectors. A nil *Metrics records nothing.
type Metrics struct {
	deliveries       *prometheus.CounterVec
	dispositionFails *prometheus.CounterVec
	auditWrites      *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries handled, by consumer and final disposition.",
		}, []string{"consumer", "disposition"}),
		dispositionFails: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disposition_errors_total",
			Help:      "Ack or reject calls the broker channel refused.",
		}, []string{"consumer", "disposition"}),
		auditWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit store writes, by collection and result.",
		}, []string{"collection", "result"}),
		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time from receipt to disposition of one delivery.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"consumer"}),
	}
}

// Disposition counts a delivery settled by consumer.
func (m *Metrics) Disposition(consumer, disposition string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(consumer, disposition).Inc()
}

// DispositionFailed counts an ack or reject the channel refused.
func (m *Metrics) DispositionFailed(consumer, disposition string) {
	if m == nil {
		return
	}
	m.dispositionFails.WithLabelValues(consumer, disposition).Inc()
}

// AuditWrite counts one audit store write by collection and result.
func (m *Metrics) AuditWrite(collection, result string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(collection, result).Inc()
}

// ObserveHandler records the time since a delivery was received.
func (m *Metrics) ObserveHandler(consumer string, since time.Time) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(consumer).Observe(time.Since(since).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("Metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
