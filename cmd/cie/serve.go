package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/api"
	"github.com/cie-bench/harness/internal/api/handlers"
	appLogger "github.com/cie-bench/harness/pkg/logger"
)

var serveOpts struct {
	Dev bool
}

// serveCmd exposes reports, the run ledger and metrics until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve aggregated reports and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}

		var runs handlers.RunLister
		if ledger != nil {
			defer ledger.Close()
			runs = ledger
		}

		reports := handlers.NewReportHandler(cfg.Paths.AnswerRoot, cfg.Paths.Manifest, cfg.Aggregate.Weights, runs)
		app := api.NewApp(api.Options{
			ReadTimeout:   time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:  time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IsDevelopment: serveOpts.Dev,
			AccessLog:     rootOpts.Verbose,
		}, reports)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		appLogger.Info("Server starting", zap.String("address", addr))

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Listen(addr)
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-cmd.Context().Done():
		}

		appLogger.Info("Server shutting down gracefully...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			appLogger.Warn("Shutdown incomplete", zap.Error(err))
		}
		appLogger.Info("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host")
	serveCmd.Flags().Int("port", 0, "Listen port")
	serveCmd.Flags().String("scores", "", "Root of judged results (<category>/<model>)")
	serveCmd.Flags().String("manifest", "", "Benchmark manifest (instruction.json)")
	serveCmd.Flags().BoolVar(&serveOpts.Dev, "dev", false, "Development mode (no HSTS header)")

	bindFlag(serveCmd, "host", "server.host")
	bindFlag(serveCmd, "port", "server.port")
	bindFlag(serveCmd, "scores", "paths.answerRoot")
	bindFlag(serveCmd, "manifest", "paths.manifest")
}
