package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fortressi/saga/booking"
)

const shutdownTimeout = 5 * time.Second

// newProviderRouter serves one inventory per kind under /car, /flight and
// /hotel. metrics is mounted at /metrics when non-nil.
func newProviderRouter(a *app, capacity int, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, kind := range []booking.Kind{booking.KindCar, booking.KindFlight, booking.KindHotel} {
		inv := booking.NewInventory(kind, "demo-"+string(kind), capacity)
		r.Mount("/"+string(kind), booking.NewProviderHandler(inv, a.logger.With("provider", kind)))
	}
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

func (a *app) providerCmd() *cobra.Command {
	var (
		addr     string
		capacity int
	)
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Run demo car, flight and hotel providers over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("capacity") {
				capacity = a.cfg.Providers.Capacity
			}
			metrics := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})

			servers := []*http.Server{}
			if a.cfg.Metrics.Addr == "" {
				servers = append(servers, &http.Server{Addr: addr, Handler: newProviderRouter(a, capacity, metrics)})
			} else {
				servers = append(servers,
					&http.Server{Addr: addr, Handler: newProviderRouter(a, capacity, nil)},
					&http.Server{Addr: a.cfg.Metrics.Addr, Handler: metrics},
				)
			}

			g, ctx := errgroup.WithContext(ctx)
			for _, srv := range servers {
				g.Go(func() error {
					a.logger.InfoContext(ctx, "listening", "addr", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			}
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				var errs []error
				for _, srv := range servers {
					errs = append(errs, srv.Shutdown(shutdownCtx))
				}
				return errors.Join(errs...)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "bookings each provider accepts (defaults to providers.capacity)")
	return cmd
}
