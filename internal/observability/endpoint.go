package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
	metricspkg "github.com/tphakala/camhal/internal/observability/metrics"
)

// Endpoint serves Prometheus metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listener      net.Listener
	listenAddress string
	metrics       *Metrics
	log           *slog.Logger
	wg            sync.WaitGroup
}

// NewEndpoint creates a telemetry endpoint for metrics listening on address.
func NewEndpoint(listenAddress string, metrics *Metrics) (*Endpoint, error) {
	if listenAddress == "" {
		return nil, errors.Newf("telemetry listen address is empty").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
		log:           logger.ForService("telemetry"),
	}, nil
}

// Start binds the listener and serves until Shutdown is called.
func (e *Endpoint) Start() error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryConfiguration).
			Context("address", e.listenAddress).
			Build()
	}
	e.listener = ln

	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux, e.log)

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.wg.Go(func() {
		e.log.Info("telemetry endpoint starting", "address", ln.Addr().String())
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.log.Error("telemetry HTTP server error", "error", err)
		}
	})
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (e *Endpoint) Addr() string {
	if e.listener == nil {
		return e.listenAddress
	}
	return e.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (e *Endpoint) Shutdown() {
	if e.server == nil {
		return
	}
	e.log.Info("stopping telemetry server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error("telemetry server shutdown error", "error", err)
	}
	e.wg.Wait()
}
