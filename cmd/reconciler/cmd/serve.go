package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"rate-reconciliation-service/cmd/reconciler/config"
	"rate-reconciliation-service/internal/api"
	"rate-reconciliation-service/pkg/errors"
	"rate-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// serveCmd serves the variance pages over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the variance pages over HTTP",
	Long: `Serve exposes the receipt/bill and order/bill variance pages. Each page
lists variances on GET and performs one bounded batch round on POST,
redirecting to a processing page until the selection is done.

Routes:
  GET  /health
  GET  /variances/receipt-bill   POST /variances/receipt-bill
  GET  /variances/order-bill     POST /variances/order-bill

Examples:
  reconciler serve
  reconciler serve --addr :9090 --store-driver memory --fixtures testdata/fixtures.yaml`,

	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

// buildDeps assembles the handler dependencies from configuration
func buildDeps(v *viper.Viper, s api.Deps) (api.Deps, error) {
	variance, err := config.CreateVarianceConfig(v)
	if err != nil {
		return s, errors.ConfigurationError(errors.CodeInvalidConfig, "thresholds", nil, err)
	}
	searchConfig, err := config.CreateSearchConfig(v)
	if err != nil {
		return s, errors.ConfigurationError(errors.CodeInvalidConfig, "search", nil, err)
	}
	governanceConfig, err := config.CreateGovernanceConfig(v)
	if err != nil {
		return s, errors.ConfigurationError(errors.CodeInvalidConfig, "governance", nil, err)
	}
	adjustmentConfig, err := config.CreateAdjustmentConfig(v)
	if err != nil {
		return s, errors.ConfigurationError(errors.CodeInvalidConfig, "adjustment", nil, err)
	}
	windows, err := config.CreateWindows(v)
	if err != nil {
		return s, errors.ConfigurationError(errors.CodeInvalidConfig, "batch", nil, err)
	}

	s.Variance = variance
	s.Search = searchConfig
	s.Governance = governanceConfig
	s.Adjustment = adjustmentConfig
	s.RateWindow = windows.Rate
	s.ReviewWindow = windows.Review
	return s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	l := logger.GetGlobalLogger().WithComponent("server")

	serverConfig, err := config.CreateServerConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", nil, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	deps, err := buildDeps(v, api.Deps{Store: s, Logger: logger.GetGlobalLogger()})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    serverConfig.Addr,
		Handler: api.NewHandler(deps),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.WithField("addr", serverConfig.Addr).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.InternalError(errors.CodeUnexpectedError, "listen", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		l.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
