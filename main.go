package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billbatista/acasinha-ledger/api"
	"github.com/billbatista/acasinha-ledger/cache"
	"github.com/billbatista/acasinha-ledger/config"
	"github.com/billbatista/acasinha-ledger/database"
	"github.com/billbatista/acasinha-ledger/eventlogger"
	"github.com/billbatista/acasinha-ledger/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "acasinha",
		Short:         "shared expense ledger for groups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "acasinha.json", "path to the JSON config file")

	root.AddCommand(serveCommand(&configFile))
	root.AddCommand(migrateCommand(&configFile))
	root.AddCommand(rebuildCommand(&configFile))

	if err := root.Execute(); err != nil {
		printErrorAndExit("command failed", err)
	}
}

func loadConfig(file string) (*config.Configuration, error) {
	cnf, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cnf.SlogLevel()})))
	return cnf, nil
}

func serveCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the ledger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cnf, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cnf)
		},
	}
}

func serve(ctx context.Context, cnf *config.Configuration) error {
	var (
		store     ledger.Store
		evtlogger eventlogger.EventLogger
		history   api.EventHistory
	)

	switch cnf.DataSource.Driver {
	case config.DriverPostgres:
		db, err := database.Connect(ctx, cnf.DataSource.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		store = ledger.NewRepository(db)
		sqlEvents := eventlogger.NewSqlEventLogger(db)
		evtlogger = sqlEvents
		history = sqlEvents
	default:
		slog.Warn("using in-memory ledger store, data is lost on restart")
		store = ledger.NewMemoryStore()
		evtlogger = eventlogger.NewSlogEventLogger(slog.Default())
	}

	worker := eventlogger.NewWorker(evtlogger, cnf.Ledger.EventBuffer)
	worker.Start()
	defer worker.Shutdown()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []ledger.Option{
		ledger.WithMaxRetries(cnf.Ledger.MaxRetries),
		ledger.WithEventLogger(worker),
		ledger.WithMetrics(ledger.NewMetrics(registry)),
	}
	if cnf.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cnf.Redis.Addr)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		opts = append(opts, ledger.WithCache(cache.NewGroupCache(client, cnf.Redis.CacheTTL)))
	}
	svc := ledger.NewService(store, opts...)

	server := &http.Server{
		Addr:              ":" + cnf.Server.Port,
		Handler:           api.NewRouter(svc, history, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cnf.Server.Port, "driver", cnf.DataSource.Driver)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
	}
	return nil
}

func migrateCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage the ledger database schema",
	}

	run := func(direction migrate.MigrationDirection) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, err := openForMigrations(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := database.Migrate(db, direction)
			if err != nil {
				return err
			}
			slog.Info("migrations applied", "count", n)
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{Use: "up", Short: "apply pending migrations", RunE: run(migrate.Up)})
	cmd.AddCommand(&cobra.Command{Use: "down", Short: "roll back migrations", RunE: run(migrate.Down)})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "list pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openForMigrations(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer db.Close()

			pending, err := database.Pending(db)
			if err != nil {
				return err
			}
			for _, id := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			slog.Info("pending migrations", "count", len(pending))
			return nil
		},
	})
	return cmd
}

func rebuildCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <group-code>...",
		Short: "recompute group balances from purchases and payments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cnf, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cnf)
			if err != nil {
				return err
			}
			defer db.Close()

			var opts []ledger.Option
			if cnf.Redis.Addr != "" {
				client, err := cache.NewRedisClient(cmd.Context(), cnf.Redis.Addr)
				if err != nil {
					return fmt.Errorf("connecting to redis: %w", err)
				}
				defer client.Close()
				opts = append(opts, ledger.WithCache(cache.NewGroupCache(client, cnf.Redis.CacheTTL)))
			}

			svc := ledger.NewService(ledger.NewRepository(db), opts...)
			return rebuildGroups(cmd.Context(), svc, args, cmd.OutOrStdout())
		},
	}
}

func rebuildGroups(ctx context.Context, svc *ledger.Service, codes []string, out io.Writer) error {
	for _, code := range codes {
		drifted, err := svc.Rebuild(ctx, code)
		if err != nil {
			return err
		}
		state := "consistent"
		if drifted {
			state = "rebuilt"
		}
		fmt.Fprintf(out, "%s\t%s\n", code, state)
	}
	return nil
}

func openForMigrations(ctx context.Context, configFile string) (*sql.DB, error) {
	cnf, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return openDatabase(ctx, cnf)
}

func openDatabase(ctx context.Context, cnf *config.Configuration) (*sql.DB, error) {
	if cnf.DataSource.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("this command needs the postgres driver, configured %q", cnf.DataSource.Driver)
	}
	return database.Connect(ctx, cnf.DataSource.DSN)
}

func printErrorAndExit(msg string, e error) {
	slog.Error(msg, "error", e)
	os.Exit(1)
}
