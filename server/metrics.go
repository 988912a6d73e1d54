package server

import (
	"context"
	"errors"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/eudore/tinyhttpd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects listener loop and gateway metrics.
//
// A nil *Metrics records nothing.
type Metrics struct {
	appInfo          *prometheus.Desc
	responses        *prometheus.CounterVec
	responseSize     *prometheus.HistogramVec
	connErrors       *prometheus.CounterVec
	gatewayErrors    *prometheus.CounterVec
	gatewayDurations prometheus.Histogram
	// Workers is the active worker count, set by the supervisor.
	Workers prometheus.Gauge
}

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		appInfo: prometheus.NewDesc(
			"tinyhttpd_app_info",
			"tinyhttpd name and version",
			nil,
			prometheus.Labels{"version": tinyhttpd.ServerVersion},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyhttpd_responses_total",
				Help: "Total number of responses by route kind and status code.",
			},
			[]string{"kind", "code"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinyhttpd_response_size_bytes",
				Help:    "Histogram of response size.",
				Buckets: prometheus.ExponentialBuckets(128, 4, 8),
			},
			[]string{"kind"},
		),
		connErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyhttpd_connection_errors_total",
				Help: "Total number of connections aborted without a response.",
			},
			[]string{"reason"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinyhttpd_gateway_errors_total",
				Help: "Total number of failed backend exchanges.",
			},
			[]string{"reason"},
		),
		gatewayDurations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "tinyhttpd_gateway_duration_seconds",
				Help: "Histogram of backend exchange latencies.",
			},
		),
		Workers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tinyhttpd_workers",
				Help: "Current number of active workers.",
			},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.appInfo
	m.responses.Describe(ch)
	m.responseSize.Describe(ch)
	m.connErrors.Describe(ch)
	m.gatewayErrors.Describe(ch)
	m.gatewayDurations.Describe(ch)
	m.Workers.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(m.appInfo, prometheus.GaugeValue, 1)
	m.responses.Collect(ch)
	m.responseSize.Collect(ch)
	m.connErrors.Collect(ch)
	m.gatewayErrors.Collect(ch)
	m.gatewayDurations.Collect(ch)
	m.Workers.Collect(ch)
}

func (m *Metrics) observeResponse(kind string, code, size int) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(kind, strconv.Itoa(code)).Inc()
	m.responseSize.WithLabelValues(kind).Observe(float64(size))
}

func (m *Metrics) observeConnError(err error) {
	if m == nil {
		return
	}
	m.connErrors.WithLabelValues(errorReason(err)).Inc()
}

func (m *Metrics) observeGateway(start time.Time, err error) {
	if m == nil {
		return
	}
	m.gatewayDurations.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "error"
		if errors.Is(err, tinyhttpd.ErrGatewayTimeout) {
			reason = "timeout"
		}
		m.gatewayErrors.WithLabelValues(reason).Inc()
	}
}

func errorReason(err error) string {
	var (
		conn    *tinyhttpd.ConnectionError
		bad     *tinyhttpd.MalformedRequestError
		length  *tinyhttpd.MissingContentLengthError
		gateway *tinyhttpd.GatewayError
		write   *tinyhttpd.WriteError
	)
	switch {
	case errors.As(err, &conn):
		return "connection"
	case errors.As(err, &bad), errors.As(err, &length):
		return "malformed"
	case errors.As(err, &gateway):
		return "gateway"
	case errors.As(err, &write):
		return "write"
	}
	return "other"
}

// ServeMetrics serves the registry on addr at /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log tinyhttpd.Logger) error {
	mux := stdhttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: promLogger{log},
	}))
	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		srv.Close()
	})
	defer stop()

	log.Infof("metrics listen %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, stdhttp.ErrServerClosed) {
		return nil
	}
	return err
}

type promLogger struct {
	tinyhttpd.Logger
}

func (l promLogger) Println(v ...any) {
	l.Error(v...)
}
