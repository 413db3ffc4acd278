package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cie-bench/harness/internal/metrics"
	"github.com/cie-bench/harness/pkg/config"
	appLogger "github.com/cie-bench/harness/pkg/logger"
)

const viperKey = "viper_key"

var (
	v   = viper.New()
	cfg *config.Config
)

var rootOpts struct {
	ConfigFile string
	Verbose    bool
}

// rootCmd loads configuration and the logger once for every subcommand.
var rootCmd = &cobra.Command{
	Use:           "cie",
	Short:         "Image-edit evaluation harness",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if keys := f.Annotations[viperKey]; len(keys) > 0 && bindErr == nil {
				bindErr = v.BindPFlag(keys[0], f)
			}
		})
		if bindErr != nil {
			return fmt.Errorf("failed to bind flags: %w", bindErr)
		}

		if rootOpts.ConfigFile != "" {
			v.SetConfigFile(rootOpts.ConfigFile)
		}

		loaded, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if rootOpts.Verbose {
			_ = appLogger.SetLevel("debug")
		}

		metrics.Init()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOpts.ConfigFile, "config", "", "Config file (default: cie.yaml in ., ./config or /etc/cie)")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.Verbose, "verbose", false, "Log every item outcome at debug level")
}

// bindFlag ties a command flag to a config key; set flags override env and file values.
func bindFlag(cmd *cobra.Command, flag, key string) {
	if err := cmd.Flags().SetAnnotation(flag, viperKey, []string{key}); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}
