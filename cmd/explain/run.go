package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"model-explain/internal/explain"
	"model-explain/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Explain every row of a CSV file",
	Long: `Loads the model and a CSV of instances, attributes each prediction and prints
the global feature ranking. The report can be persisted and written as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("data") {
			settings.DataPath, _ = cmd.Flags().GetString("data")
		}
		if cmd.Flags().Changed("background") {
			settings.BackgroundPath, _ = cmd.Flags().GetString("background")
		}
		top, _ := cmd.Flags().GetInt("top")
		output, _ := cmd.Flags().GetString("output")
		persist, _ := cmd.Flags().GetBool("store")

		adapter, name, err := loadAdapter(settings, nil)
		if err != nil {
			return err
		}
		data, err := loadData(adapter, settings.DataPath, "")
		if err != nil {
			return err
		}
		background, err := loadBackground(settings, adapter, data)
		if err != nil {
			return err
		}

		pipe, err := explain.New(adapter, background, settings.AttributionOptions(),
			explain.Config{Model: name, Workers: settings.Workers}, nil)
		if err != nil {
			return err
		}

		report, err := pipe.Run(cmd.Context(), data)
		if err != nil {
			return err
		}

		if persist {
			store, err := storage.New(settings.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Save(report); err != nil {
				return fmt.Errorf("failed to store report: %w", err)
			}
			log.Info().Str("id", report.ID).Str("path", settings.StorePath).Msg("Report stored")
		}

		if output != "" {
			if err := writeReport(output, report); err != nil {
				return err
			}
		}

		printSummary(cmd.OutOrStdout(), report.Summarize(top))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("data", "", "CSV file of instances to explain")
	runCmd.Flags().String("background", "", "CSV file of background instances")
	runCmd.Flags().Int("top", 10, "Number of ranked features to print (-1 for all)")
	runCmd.Flags().StringP("output", "o", "", "Write the full report as JSON to this file")
	runCmd.Flags().Bool("store", false, "Persist the report in the report store")
}

func writeReport(path string, report *explain.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// printSummary writes a report header and its ranking as an aligned table.
func printSummary(w io.Writer, s explain.Summary) {
	fmt.Fprintf(w, "Report:    %s\n", s.ID)
	fmt.Fprintf(w, "Model:     %s (%s)\n", s.Model, s.Method)
	fmt.Fprintf(w, "Created:   %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Instances: %d", s.Instances)
	if s.LowConfidence > 0 {
		fmt.Fprintf(w, " (%d low confidence)", s.LowConfidence)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	printRanking(w, s.Top)
}
