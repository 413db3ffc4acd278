package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/batch"
	rediscache "github.com/cie-bench/harness/internal/cache/redis"
	"github.com/cie-bench/harness/internal/evaluation"
	"github.com/cie-bench/harness/internal/imaging"
	"github.com/cie-bench/harness/internal/llm"
	"github.com/cie-bench/harness/internal/metrics"
	appLogger "github.com/cie-bench/harness/pkg/logger"
)

// judgeCmd asks the vision judge the question bank of every edited image and
// scores the answers, once per (model, category).
var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Score edited images with the vision judge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Judge.Models) == 0 {
			return errors.New("no models to judge: set --models or judge.models")
		}

		template, err := os.ReadFile(cfg.Paths.PromptPath)
		if err != nil {
			return fmt.Errorf("failed to read prompt template: %w", err)
		}

		// The manifest only maps banks back to dataset ids here.
		m, err := loadManifest(cfg.Paths.Manifest)
		if err != nil {
			appLogger.Warn("Manifest unavailable, using positional ids", zap.Error(err))
		}

		llmCfg := llm.Config{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			Model:        cfg.LLM.Model,
			MaxTokens:    cfg.LLM.MaxTokens,
			Timeout:      time.Duration(cfg.LLM.TimeoutSec) * time.Second,
			SystemPrompt: cfg.LLM.SystemPrompt,
			Retry:        retryConfig(cfg, "judge"),
			Breaker:      breaker(cfg, "judge"),
			Limiter:      limiter(cfg),
			OnRequest: func(d time.Duration, usage llm.Usage, err error) {
				metrics.ObserveRequest("judge", d, err)
				metrics.ObserveTokens(cfg.LLM.Model, usage.PromptTokens, usage.CompletionTokens)
			},
		}
		if cfg.Redis.Enabled {
			cache, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
				time.Duration(cfg.Redis.TTLHours)*time.Hour)
			if err != nil {
				appLogger.Warn("Judge cache disabled", zap.Error(err))
			} else {
				defer cache.Close()
				llmCfg.Cache = cache
			}
		}
		judge := llm.NewClient(llmCfg)

		opts := []evaluation.Option{
			evaluation.WithImageOptions(imaging.Options{MaxSide: cfg.LLM.MaxImageSide, KeepOriginal: true}),
		}
		if judgeOpts.Strict {
			opts = append(opts, evaluation.WithScorer(evaluation.Scorer{Matcher: evaluation.MatchStrict}))
		}
		evaluator := evaluation.NewEvaluator(judge, string(template), opts...)

		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		if ledger != nil {
			defer ledger.Close()
		}

		for _, model := range cfg.Judge.Models {
			for _, category := range cfg.Judge.Categories {
				if cmd.Context().Err() != nil {
					return nil
				}

				bankDir := filepath.Join(cfg.Paths.QuestionRoot, category)
				items, err := evaluation.BankItems(bankDir)
				if err != nil {
					appLogger.Error("Skipping category", zap.String("category", category), zap.Error(err))
					continue
				}
				items = batch.FilterRange(evaluation.AssignManifestIDs(items, m), judgeOpts.Start, judgeOpts.End)

				outputDir := filepath.Join(cfg.Paths.AnswerRoot, category, model)
				handler := &evaluation.Handler{
					Evaluator:   evaluator,
					BankDir:     bankDir,
					OriginalDir: cfg.Paths.ImageDir,
					EditedDir:   filepath.Join(cfg.Paths.EditedRoot, model),
					OutputDir:   outputDir,
				}

				stats := trackedRun{Kind: "judge:" + category, Model: model, Category: category}.run(cmd.Context(), ledger, batch.Config{
					Workers:   cfg.Judge.Workers,
					Force:     judgeOpts.Force,
					OutputDir: outputDir,
				}, items, handler)

				printSummary(cmd.OutOrStdout(), fmt.Sprintf("judge %s/%s", category, model), stats)
			}
		}
		return nil
	},
}

var judgeOpts struct {
	Start  int
	End    int
	Force  bool
	Strict bool
}

func init() {
	rootCmd.AddCommand(judgeCmd)

	f := judgeCmd.Flags()
	f.String("manifest", "", "Benchmark manifest (instruction.json)")
	f.String("image-dir", "", "Directory of original images")
	f.String("edited-dir", "", "Root of edited images, one subdirectory per model")
	f.String("questions-dir", "", "Root of question banks, one subdirectory per category")
	f.String("output-dir", "", "Root of judged results, written to <category>/<model>")
	f.String("prompt", "", "Prompt template file")
	f.String("api-key", "", "Judge API key")
	f.String("model", "", "Judge model")
	f.StringSlice("models", nil, "Edited models to judge")
	f.StringSlice("categories", nil, "Question categories (default IF,VC,VQ)")
	f.Int("workers", 0, "Concurrent judge requests")
	f.IntVar(&judgeOpts.Start, "start", 0, "First item id (inclusive)")
	f.IntVar(&judgeOpts.End, "end", 0, "Last item id (inclusive)")
	f.BoolVar(&judgeOpts.Force, "force", false, "Re-judge items that already have a result")
	f.BoolVar(&judgeOpts.Strict, "strict", false, "Match answers to questions by exact id instead of prefix")

	bindFlag(judgeCmd, "manifest", "paths.manifest")
	bindFlag(judgeCmd, "image-dir", "paths.imageDir")
	bindFlag(judgeCmd, "edited-dir", "paths.editedRoot")
	bindFlag(judgeCmd, "questions-dir", "paths.questionRoot")
	bindFlag(judgeCmd, "output-dir", "paths.answerRoot")
	bindFlag(judgeCmd, "prompt", "paths.promptPath")
	bindFlag(judgeCmd, "api-key", "llm.apiKey")
	bindFlag(judgeCmd, "model", "llm.model")
	bindFlag(judgeCmd, "models", "judge.models")
	bindFlag(judgeCmd, "categories", "judge.categories")
	bindFlag(judgeCmd, "workers", "judge.workers")
}
