package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readTimeout = 3 * time.Second

// CreateMetricsServer binds a /metrics endpoint at bind:port and serves
// it until the process exits or the listener fails. Matching the
// teacher's own metrics server, a disabled server is a no-op, and a
// bind failure is returned to the caller instead of panicking. registry
// may be nil, in which case the global default registry is served.
func CreateMetricsServer(enabled bool, bind string, port int, registry *prometheus.Registry) error {
	if !enabled {
		return nil
	}
	var handler http.Handler
	if registry != nil {
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	} else {
		handler = promhttp.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("metrics: binding %s: %w", server.Addr, err)
	}
	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
