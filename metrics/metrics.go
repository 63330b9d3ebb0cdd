// Package metrics exposes Prometheus collectors for the trust core and a
// standalone metrics listener consumed by the HTTP server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VerificationsTotal counts verifier operations by operation and result.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enclave_trust_verifications_total",
		Help: "Number of consensus verification operations, by operation and result.",
	}, []string{"operation", "result"})

	// VerifiedHeight tracks the verifier's last verified consensus height.
	VerifiedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enclave_trust_verified_height",
		Help: "Highest consensus height with verified light-client state.",
	})

	// RPCCallsTotal counts dispatched RPC calls by method and dispatch kind.
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enclave_trust_rpc_calls_total",
		Help: "Number of dispatched enclave RPC calls, by method and kind.",
	}, []string{"method", "kind"})
)

// MetricsServer serves the Prometheus metrics endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service on the given address.
func New(serviceName, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the metrics endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
