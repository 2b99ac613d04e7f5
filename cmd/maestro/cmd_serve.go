package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/maestro/pkg/api"
	"github.com/hazyhaar/maestro/pkg/importer"
	"github.com/hazyhaar/maestro/pkg/maestro"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups and resolutions over HTTP and MCP",
	Long: `Starts the HTTP server: /v1 lookup and resolve routes, /metrics and the
streamable MCP endpoint at /mcp. SIGHUP reloads the maestros; SIGINT and
SIGTERM shut down gracefully. With check_interval set, adapter inputs are
checked periodically and the results stored in the ledger.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	reg, err := loadMaestros()
	if err != nil {
		return err
	}
	logger.Info("maestros loaded", "count", reg.Count(), "entries", reg.TotalEntries())

	var ledger *importer.Ledger
	if cfg.CheckInterval > 0 {
		ledger, err = openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewRouter(reg, api.NewMetrics(reg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("maestro listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		reloadOnHangup(ctx, reg)
		return nil
	})

	if ledger != nil {
		g.Go(func() error {
			importer.NewChecker(ledger, logger, cfg.CheckInterval).Start(ctx)
			return nil
		})
	}

	return g.Wait()
}

// reloadOnHangup reloads the maestros and job files on every SIGHUP until
// ctx is done.
func reloadOnHangup(ctx context.Context, reg *maestro.Registry) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			logger.Info("SIGHUP received, reloading maestros")
			if err := reg.Reload(); err != nil {
				logger.Error("reload failed", "error", err)
				continue
			}
			if _, err := importer.RegisterJobs(cfg.JobsDir); err != nil {
				logger.Error("reload jobs failed", "error", err)
			}
			logger.Info("maestros reloaded", "count", reg.Count(), "entries", reg.TotalEntries())
		}
	}
}
