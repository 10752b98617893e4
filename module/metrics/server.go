package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
)

// Server serves the prometheus metrics endpoint.
type Server struct {
	component.Component
	log    zerolog.Logger
	server *http.Server
}

// NewServer creates a metrics server listening on addr.
func NewServer(log zerolog.Logger, addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s := &Server{
		log:    log.With().Str("component", "metrics_server").Logger(),
		server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
	s.Component = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s
}

func (s *Server) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting metrics server")
	errChan := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	ready()

	select {
	case err := <-errChan:
		ctx.Throw(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("error stopping metrics server")
		}
	}
}
