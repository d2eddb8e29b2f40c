// Package metrics instruments the Lifecycle Controller with Prometheus
// counters and a duration histogram per step, served over HTTP for
// the command's lifetime only.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oar_p2p"

var (
	stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "step_duration_seconds",
		Help:      "Duration of one lifecycle step (build_helper_image, clean, apply) across all machines",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	stepResult = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "step_total",
		Help:      "Outcome of a lifecycle step run across all machines",
	}, []string{"step", "outcome"})
)

func init() {
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(stepResult)
}

// ObserveStep records the wall-clock duration of a lifecycle step and
// whether it succeeded.
func ObserveStep(step string, duration time.Duration, err error) {
	stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	stepResult.WithLabelValues(step, outcome).Inc()
}

// Serve starts an HTTP server exposing /metrics on addr, stopping when ctx
// is cancelled. A blank addr disables the server.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
