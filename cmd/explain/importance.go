package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"model-explain/internal/importance"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	kindIntrinsic   = "intrinsic"
	kindPermutation = "permutation"
)

var importanceCmd = &cobra.Command{
	Use:   "importance",
	Short: "Rank features by model-intrinsic or permutation importance",
	Long: `intrinsic uses linear coefficients or tree split gain; permutation measures the
accuracy drop on labelled data when each feature is shuffled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		savePath, _ := cmd.Flags().GetString("save")
		if cmd.Flags().Changed("data") {
			settings.DataPath, _ = cmd.Flags().GetString("data")
		}
		if cmd.Flags().Changed("label") {
			settings.LabelColumn, _ = cmd.Flags().GetString("label")
		}

		adapter, _, err := loadAdapter(settings, nil)
		if err != nil {
			return err
		}

		var ranking importance.Ranking
		switch kind {
		case kindIntrinsic:
			ranking, err = importance.Intrinsic(adapter)
		case kindPermutation:
			if settings.LabelColumn == "" {
				return fmt.Errorf("permutation importance needs a label column (set LABEL_COLUMN or --label)")
			}
			data, lerr := loadData(adapter, settings.DataPath, settings.LabelColumn)
			if lerr != nil {
				return lerr
			}
			ranking, err = importance.Permutation(cmd.Context(), adapter, data, importance.PermutationConfig{
				Repeats: settings.PermutationRepeats,
				Seed:    settings.Seed,
			})
		default:
			return fmt.Errorf("unknown importance kind %q (want %s or %s)", kind, kindIntrinsic, kindPermutation)
		}
		if err != nil {
			return err
		}

		if savePath != "" {
			if err := importance.Save(savePath, ranking); err != nil {
				return fmt.Errorf("failed to save ranking: %w", err)
			}
			log.Info().Str("path", savePath).Msg("Ranking saved")
		}

		printRanking(cmd.OutOrStdout(), ranking)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importanceCmd)
	importanceCmd.Flags().String("kind", kindIntrinsic, "Importance kind: intrinsic or permutation")
	importanceCmd.Flags().String("data", "", "Labelled CSV file for permutation importance")
	importanceCmd.Flags().String("label", "", "Label column of the CSV file")
	importanceCmd.Flags().String("save", "", "Write the ranking as JSON to this file")
}

func printRanking(w io.Writer, r importance.Ranking) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tFEATURE\tSCORE")
	for i, e := range r {
		fmt.Fprintf(tw, "%d\t%s\t%.6f\n", i+1, e.Feature, e.Score)
	}
	tw.Flush()
}
