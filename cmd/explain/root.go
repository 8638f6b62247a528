package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"model-explain/internal/cfg"
	"model-explain/internal/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// settings is loaded once before any subcommand runs.
var settings cfg.Settings

var rootCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain predictions of trained models",
	Long: `explain attributes model predictions to input features with tree, linear or
surrogate explainers and ranks features by their mean absolute contribution.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			os.Setenv(common.EnvConfigFile, path)
		}

		var err error
		settings, err = cfg.Load()
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		applyOverrides(cmd)

		// Setup logging
		zerolog.SetGlobalLevel(settings.Level())
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	},
}

// Execute adds all child commands to the root command and runs it. Interrupts
// cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	flags.String("model", "", "Path to model JSON file")
	flags.String("method", "", "Attribution method: auto, tree, linear, lime, kernel")
	flags.Int("workers", 0, "Parallel attribution workers")
	flags.Int64("seed", 0, "Seed for surrogate sampling and permutations")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
}

// applyOverrides copies explicitly set persistent flags over the loaded settings.
func applyOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		settings.ModelPath, _ = flags.GetString("model")
	}
	if flags.Changed("method") {
		settings.Method, _ = flags.GetString("method")
	}
	if flags.Changed("workers") {
		settings.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("seed") {
		settings.Seed, _ = flags.GetInt64("seed")
		settings.Surrogate.Seed = settings.Seed
	}
	if flags.Changed("log-level") {
		settings.LogLevel, _ = flags.GetString("log-level")
	}
}
