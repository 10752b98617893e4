package httpnet

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
)

// Server serves a router until shutdown.
type Server struct {
	*component.ComponentManager
	log    zerolog.Logger
	server *http.Server
	addr   chan net.Addr
}

func NewServer(log zerolog.Logger, name string, addr string, router *mux.Router) *Server {
	s := &Server{
		log: log.With().Str("component", name).Logger(),
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		addr: make(chan net.Addr, 1),
	}
	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s
}

// Addr returns the address the server listens on. It blocks until the server
// is listening.
func (s *Server) Addr() net.Addr {
	addr := <-s.addr
	s.addr <- addr
	return addr
}

func (s *Server) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		ctx.Throw(err)
		return
	}
	s.addr <- listener.Addr()
	s.log.Info().Str("addr", listener.Addr().String()).Msg("starting http server")

	errChan := make(chan error, 1)
	go func() {
		err := s.server.Serve(listener)
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
			s.log.Error().Err(err).Msg("error stopping http server")
		}
	}
}
