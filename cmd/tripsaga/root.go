package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/fortressi/saga"
	"github.com/fortressi/saga/booking"
	"github.com/fortressi/saga/internal/config"
	"github.com/fortressi/saga/internal/telemetry"
	"github.com/fortressi/saga/store/pgstore"
	"github.com/fortressi/saga/store/redisstore"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *saga.Metrics
	tracer   trace.TracerProvider
	flush    func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "tripsaga",
		Short:        "Book trips as sagas and compensate them on failure",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml or json)")

	root.AddCommand(
		a.bookCmd(),
		a.statusCmd(),
		a.recoverCmd(),
		a.describeCmd(),
		a.providerCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return err
	}

	tp, flush, err := telemetry.NewTracerProvider(cfg.Tracing.Exporter, "tripsaga", cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.tracer = tp
	a.flush = flush
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = saga.NewMetrics(a.registry)
	return nil
}

// openStore connects the configured back end. The returned func releases it.
func (a *app) openStore(ctx context.Context) (saga.Store, func() error, error) {
	sc := a.cfg.Store
	noop := func() error { return nil }

	switch sc.Backend {
	case config.BackendMemory:
		return saga.NewMemoryStore(), noop, nil
	case config.BackendFile:
		store, err := saga.NewFileStore(sc.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: sc.Redis.Addr, DB: sc.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", sc.Redis.Addr, err)
		}
		store := redisstore.New(client,
			redisstore.WithPrefix(sc.Redis.Prefix),
			redisstore.WithFinishedTTL(sc.Redis.FinishedTTL),
		)
		return store, client.Close, nil
	case config.BackendPostgres:
		db, err := sql.Open("pgx", sc.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store, err := pgstore.NewWithSchema(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// clients returns an HTTP client for every provider with a configured URL
// and an in-process inventory for the rest.
func (a *app) clients() booking.Clients {
	pc := a.cfg.Providers
	httpClient := &http.Client{Timeout: pc.Timeout}
	pick := func(kind booking.Kind, url string) booking.Client {
		if url != "" {
			return booking.NewHTTPClient(kind, url, httpClient)
		}
		return booking.NewInventory(kind, "local-"+string(kind), pc.Capacity)
	}
	return booking.Clients{
		Car:    pick(booking.KindCar, pc.Car),
		Flight: pick(booking.KindFlight, pc.Flight),
		Hotel:  pick(booking.KindHotel, pc.Hotel),
	}
}

func (a *app) coordinator(store saga.Store) (*saga.Coordinator, *saga.Definition, error) {
	def, err := booking.NewTripDefinition(a.clients())
	if err != nil {
		return nil, nil, err
	}
	c := saga.NewCoordinator(store,
		saga.WithLogger(a.logger),
		saga.WithMetrics(a.metrics),
		saga.WithTracerProvider(a.tracer),
		saga.WithRetryPolicy(a.cfg.Retry.Policy()),
		saga.WithCompensationPolicy(saga.CompensationPolicy{
			Retry:     a.cfg.Compensation.Policy(),
			OnFailure: a.escalate,
		}),
		saga.WithRetainFinished(a.cfg.RetainFinished),
		saga.WithRecoveryParallelism(a.cfg.Recovery.Parallelism),
	)
	if err := c.Register(def); err != nil {
		return nil, nil, err
	}
	return c, def, nil
}

// escalate reports a booking that could not be cancelled.
func (a *app) escalate(ctx context.Context, instanceID string, failure saga.CompensationFailure) {
	a.logger.ErrorContext(ctx, "compensation needs manual remediation",
		"instance_id", instanceID, "step", failure.Step, "error", failure.Error)
}

// withCoordinator opens the store, builds the coordinator and runs fn.
func (a *app) withCoordinator(ctx context.Context, fn func(*saga.Coordinator, *saga.Definition) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			a.logger.WarnContext(ctx, "failed to close store", "error", err)
		}
		if err := a.flush(context.WithoutCancel(ctx)); err != nil {
			a.logger.WarnContext(ctx, "failed to flush spans", "error", err)
		}
	}()

	c, def, err := a.coordinator(store)
	if err != nil {
		return err
	}
	return fn(c, def)
}
