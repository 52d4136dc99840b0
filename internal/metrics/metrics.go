package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/studiowebux/poolbench/internal/types"
)

const shutdownTimeout = 2 * time.Second

// Recorder turns statistics records into Prometheus metrics
type Recorder struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	retries     prometheus.Counter
	iterations  prometheus.Counter
	connectTime prometheus.Histogram
	dataTime    prometheus.Histogram
	bytes       prometheus.Counter
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolbench_requests_total",
			Help: "Completed requests by pool and outcome",
		}, []string{"pool", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolbench_retries_total",
			Help: "Retries spent on completed requests",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolbench_iterations_total",
			Help: "Finished driver iterations",
		}),
		connectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poolbench_connect_duration_seconds",
			Help:    "Time to open a session, for requests that had to connect",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		dataTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poolbench_transfer_duration_seconds",
			Help:    "Time to send a request and read the full response",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolbench_response_bytes_total",
			Help: "Response body bytes received",
		}),
	}
	r.registry.MustRegister(r.requests, r.retries, r.iterations, r.connectTime, r.dataTime, r.bytes)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Write records one iteration worth of records
func (r *Recorder) Write(iteration int, records []types.StatsRecord) error {
	for _, rec := range records {
		outcome := "failed"
		if rec.Success {
			outcome = "success"
		}
		r.requests.WithLabelValues(strconv.Itoa(rec.PoolID), outcome).Inc()
		r.retries.Add(float64(rec.Retries))
		if !rec.Success {
			continue
		}
		r.bytes.Add(float64(rec.Size))
		r.dataTime.Observe(microseconds(rec.TimeData))
		if rec.TimeConnect != types.NoConnect {
			r.connectTime.Observe(microseconds(rec.TimeConnect))
		}
	}
	r.iterations.Inc()
	return nil
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Metrics at http://%s/metrics", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func microseconds(us int64) float64 {
	return float64(us) / float64(time.Second/time.Microsecond)
}
