package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/imageedit"
	"github.com/cie-bench/harness/internal/imaging"
	"github.com/cie-bench/harness/internal/metrics"
	appLogger "github.com/cie-bench/harness/pkg/logger"
)

// editCmd sends every manifest item to an image-editing model.
var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Generate edited images for the benchmark manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManifest(cfg.Paths.Manifest)
		if err != nil {
			return err
		}

		outputDir := editOpts.OutputDir
		if outputDir == "" {
			outputDir = filepath.Join(cfg.Paths.EditedRoot, filepath.Base(cfg.Edit.Model))
		}

		var provider imageedit.Provider
		switch cfg.Edit.Provider {
		case "flux":
			provider = imageedit.NewFluxProvider(imageedit.FluxConfig{
				APIKey:       cfg.Edit.APIKey,
				Endpoint:     cfg.Edit.FluxURL,
				OutputFormat: cfg.Edit.OutputFormat,
				Timeout:      time.Duration(cfg.Edit.TimeoutSec) * time.Second,
				Image:        imaging.Options{MaxSide: cfg.Edit.MaxImageSide, Quality: cfg.Edit.JPEGQuality},
			})
		default:
			provider = imageedit.NewOpenAIProvider(imageedit.OpenAIConfig{
				APIKey:         cfg.Edit.APIKey,
				BaseURL:        cfg.Edit.BaseURL,
				Model:          cfg.Edit.Model,
				Size:           cfg.Edit.Size,
				ResponseFormat: cfg.Edit.ResponseFormat,
				Quality:        cfg.Edit.Quality,
				Timeout:        time.Duration(cfg.Edit.TimeoutSec) * time.Second,
			})
		}

		client := imageedit.NewClient(provider, imageedit.Config{
			Retry:           retryConfig(cfg, "edit"),
			Breaker:         breaker(cfg, "edit:"+provider.Name()),
			Limiter:         limiter(cfg),
			DownloadTimeout: time.Duration(cfg.Edit.DownloadSec) * time.Second,
			OnRequest: func(d time.Duration, err error) {
				metrics.ObserveRequest("edit", d, err)
			},
		})

		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		if ledger != nil {
			defer ledger.Close()
		}

		items := batch.FilterRange(m.Items, editOpts.Start, editOpts.End)
		appLogger.Info("Edit run configured",
			zap.String("provider", provider.Name()),
			zap.String("model", cfg.Edit.Model),
			zap.String("output_dir", outputDir),
			zap.Int("items", len(items)),
		)

		handler := &imageedit.Handler{
			Client:    client,
			ImageDir:  cfg.Paths.ImageDir,
			OutputDir: outputDir,
		}
		stats := trackedRun{Kind: "edit", Model: cfg.Edit.Model}.run(cmd.Context(), ledger, batch.Config{
			Workers:   cfg.Edit.Workers,
			Force:     editOpts.Force,
			OutputDir: outputDir,
		}, items, handler)

		printSummary(cmd.OutOrStdout(), fmt.Sprintf("edit %s", cfg.Edit.Model), stats)
		return nil
	},
}

var editOpts struct {
	OutputDir string
	Start     int
	End       int
	Force     bool
}

func init() {
	rootCmd.AddCommand(editCmd)

	f := editCmd.Flags()
	f.String("manifest", "", "Benchmark manifest (instruction.json)")
	f.String("image-dir", "", "Directory of original images")
	f.StringVar(&editOpts.OutputDir, "output-dir", "", "Output directory (default: <editedRoot>/<model>)")
	f.String("api-key", "", "Edit API key")
	f.String("provider", "", "Edit provider (openai|flux)")
	f.String("model", "", "Edit model name")
	f.String("quality", "", "OpenAI edit quality (low|medium|high|auto)")
	f.Int("workers", 0, "Concurrent requests")
	f.IntVar(&editOpts.Start, "start", 0, "First item id (inclusive)")
	f.IntVar(&editOpts.End, "end", 0, "Last item id (inclusive)")
	f.BoolVar(&editOpts.Force, "force", false, "Regenerate outputs that already exist")

	bindFlag(editCmd, "manifest", "paths.manifest")
	bindFlag(editCmd, "image-dir", "paths.imageDir")
	bindFlag(editCmd, "api-key", "edit.apiKey")
	bindFlag(editCmd, "provider", "edit.provider")
	bindFlag(editCmd, "model", "edit.model")
	bindFlag(editCmd, "quality", "edit.quality")
	bindFlag(editCmd, "workers", "edit.workers")
}
