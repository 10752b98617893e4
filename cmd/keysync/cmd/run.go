package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/citadel-wallet/keysync/engine/admin"
	"github.com/citadel-wallet/keysync/engine/agent"
	"github.com/citadel-wallet/keysync/engine/oobi"
	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/metrics"
	"github.com/citadel-wallet/keysync/module/ui"
	"github.com/citadel-wallet/keysync/network/httpnet"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted or until its limit elapses",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("could not close identity store")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewKeySyncCollector(registry)

	transport := httpnet.NewTransport(log, conf.Transport, store)
	resolver := oobi.NewResolver(log, store, conf.Transport.Workers, conf.Transport.Timeout)
	a, err := agent.New(log, conf.Agent(), store, transport, resolver, ui.NewLogSink(log), collector, clock.New())
	if err != nil {
		return fmt.Errorf("could not create agent: %w", err)
	}

	router := mux.NewRouter()
	transport.Register(router)
	oobi.NewPublisher(log, store, conf.Endpoint()).Register(router)

	// the agent goes first, when it stops the node stops
	components := []component.Component{
		a,
		transport,
		resolver,
		httpnet.NewServer(log, "endpoint_server", conf.ListenAddr, router),
	}
	if conf.AdminAddr != "" {
		adminRouter := mux.NewRouter()
		admin.NewHandler(log, a, resolver, store).Register(adminRouter)
		components = append(components, httpnet.NewServer(log, "admin_server", conf.AdminAddr, adminRouter))
	}
	if conf.MetricsAddr != "" {
		components = append(components, metrics.NewServer(log, conf.MetricsAddr, registry))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().
		Str("data_dir", conf.DataDir).
		Str("endpoint", conf.Endpoint()).
		Dur("limit", conf.Limit).
		Msg("starting keysync")

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range components {
		c := c
		first := i == 0
		g.Go(func() error {
			err := component.RunComponent(ctx, func() (component.Component, error) { return c, nil }, stopOnError)
			if first {
				cancel()
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	if err != nil {
		return fmt.Errorf("keysync stopped: %w", err)
	}
	log.Info().Msg("keysync stopped")
	return nil
}

// stopOnError stops the node on any irrecoverable error. Components cannot be
// started twice, so there is nothing to restart.
func stopOnError(err error) component.ErrorHandlingResult {
	log.Error().Err(err).Msg("component failed")
	return component.ErrorHandlingStop
}
