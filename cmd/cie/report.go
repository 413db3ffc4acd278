package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cie-bench/harness/internal/aggregate"
	"github.com/cie-bench/harness/internal/metrics"
)

var reportOpts struct {
	Scores string
	Root   string
	Model  string
	Dir    string
	ID     string
	Format string
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Average judged scores per class, group and overall",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := os.ReadFile(cfg.Paths.Manifest)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}
		report, err := aggregate.Aggregate(reportOpts.Scores, manifest)
		if err != nil {
			return err
		}
		return emit(cmd, report)
	},
}

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Weight one model's category averages into a single score",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := os.ReadFile(cfg.Paths.Manifest)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}
		reports, err := aggregate.Aggregator{}.AggregateModel(scoreRoot(), reportOpts.Model, manifest, cfg.Aggregate.Weights)
		if err != nil {
			return err
		}
		for category, r := range reports {
			metrics.RecordReport(category, reportOpts.Model, r)
		}
		return emit(cmd, aggregate.Combine(reportOpts.Model, reports, cfg.Aggregate.Weights))
	},
}

var zerosCmd = &cobra.Command{
	Use:   "zeros",
	Short: "List zero-score results grouped by error",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := aggregate.ZeroScores(reportOpts.Dir)
		if err != nil {
			return err
		}
		return emit(cmd, report)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Compare one item's judged answers across models",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, err := resolvePrefix(reportOpts.ID)
		if err != nil {
			return err
		}
		items, err := aggregate.CompareItem(scoreRoot(), prefix, cfg.Aggregate.Weights)
		if err != nil {
			return err
		}
		return emit(cmd, items)
	},
}

func scoreRoot() string {
	if reportOpts.Root != "" {
		return reportOpts.Root
	}
	return cfg.Paths.AnswerRoot
}

// resolvePrefix maps a numeric manifest id to its image prefix; anything else
// is taken as the prefix itself.
func resolvePrefix(id string) (string, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return id, nil
	}
	m, err := loadManifest(cfg.Paths.Manifest)
	if err != nil {
		return "", err
	}
	for _, it := range m.Items {
		if it.ID == n && it.Prefix() != "" {
			return it.Prefix(), nil
		}
	}
	return "", fmt.Errorf("no manifest entry with id %d", n)
}

func emit(cmd *cobra.Command, v any) error {
	out, err := aggregate.Render(v, reportOpts.Format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&reportOpts.Format, "format", aggregate.FormatText, "Report format (text|json|yaml)")

	aggregateCmd.Flags().StringVar(&reportOpts.Scores, "scores", "", "Directory of judged results for one category and model")
	aggregateCmd.Flags().String("manifest", "", "Benchmark manifest (instruction.json)")
	_ = aggregateCmd.MarkFlagRequired("scores")
	bindFlag(aggregateCmd, "manifest", "paths.manifest")

	combineCmd.Flags().StringVar(&reportOpts.Root, "root", "", "Root of judged results, <category>/<model> (default paths.answerRoot)")
	combineCmd.Flags().StringVar(&reportOpts.Model, "model", "", "Model to combine")
	combineCmd.Flags().String("manifest", "", "Benchmark manifest (instruction.json)")
	_ = combineCmd.MarkFlagRequired("model")
	bindFlag(combineCmd, "manifest", "paths.manifest")

	zerosCmd.Flags().StringVar(&reportOpts.Dir, "dir", "", "Directory of judged results")
	_ = zerosCmd.MarkFlagRequired("dir")

	inspectCmd.Flags().StringVar(&reportOpts.Root, "root", "", "Root of judged results, <category>/<model> (default paths.answerRoot)")
	inspectCmd.Flags().StringVar(&reportOpts.ID, "id", "", "Manifest id or image prefix")
	inspectCmd.Flags().String("manifest", "", "Benchmark manifest (instruction.json)")
	_ = inspectCmd.MarkFlagRequired("id")
	bindFlag(inspectCmd, "manifest", "paths.manifest")

	rootCmd.AddCommand(aggregateCmd, combineCmd, zerosCmd, inspectCmd)
}
