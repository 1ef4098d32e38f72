// Package metrics exposes the fault injector's per-operation hit/fault
// counters as Prometheus metrics. It is purely additive observability
// and is never read back by the injector or the operation layer.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
)

// Config configures the exporter: RunID is attached as a constant label
// so repeated short-lived mounts are distinguishable in aggregated
// scrapes. Addr is not read by New or Start; the listen address is the
// argument passed to Start.
type Config struct {
	Addr     string
	RunID    string
	Registry *prometheus.Registry
}

// Exporter owns the counter vectors and, optionally, an HTTP server
// exposing them. The Start/Stop lifecycle uses a mutex-guarded running
// flag so repeated calls are safe.
type Exporter struct {
	hits    *prometheus.CounterVec
	faults  *prometheus.CounterVec
	handler http.Handler

	mu      sync.Mutex
	running bool
	server  *http.Server
}

// New registers the counter vectors against cfg.Registry (or the global
// default registry if nil) and returns an Exporter ready to Observe
// decisions and to Start an HTTP listener.
func New(cfg Config) *Exporter {
	var factory promauto.Factory
	var handler http.Handler
	if cfg.Registry != nil {
		factory = promauto.With(cfg.Registry)
		handler = promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})
	} else {
		factory = promauto.With(prometheus.DefaultRegisterer)
		handler = promhttp.Handler()
	}
	labels := prometheus.Labels{"run_id": cfg.RunID}

	return &Exporter{
		handler: handler,
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nasemu",
			Name:        "operation_hits_total",
			Help:        "Filesystem operations evaluated by the fault injector, by operation kind.",
			ConstLabels: labels,
		}, []string{"op"}),
		faults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nasemu",
			Name:        "operation_faults_total",
			Help:        "Filesystem operations the fault injector deviated from passthrough, by operation kind and action.",
			ConstLabels: labels,
		}, []string{"op", "action"}),
	}
}

// Observe implements vfs.MetricsRecorder: it is called once per injector
// decision and never blocks on I/O.
func (e *Exporter) Observe(op fault.Operation, action fault.Action) {
	e.hits.WithLabelValues(op.String()).Inc()
	if action != fault.ActionPass {
		e.faults.WithLabelValues(op.String(), action.String()).Inc()
	}
}

// Start launches the HTTP listener serving /metrics at addr, if addr is
// non-empty. A no-op Start (no listener) is valid: --metrics-addr is
// optional.
func (e *Exporter) Start(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.handler)
	e.server = &http.Server{Addr: addr, Handler: mux}
	e.running = true
	e.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop shuts the HTTP listener down, if one was started.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.server == nil {
		return nil
	}
	e.running = false
	return e.server.Shutdown(ctx)
}
