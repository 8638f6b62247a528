package main

import (
	"fmt"
	"text/tabwriter"

	"model-explain/internal/storage"

	"github.com/spf13/cobra"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect stored explanation reports",
}

var reportsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored reports",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelName, _ := cmd.Flags().GetString("model-name")

		store, err := storage.New(settings.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		reports, err := store.List(modelName)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMODEL\tMETHOD\tCREATED\tINSTANCES\tTOP")
		for _, r := range reports {
			s := r.Summarize(1)
			top := "-"
			if len(s.Top) > 0 {
				top = s.Top[0].Feature
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.ID, s.Model, s.Method, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Instances, top)
		}
		return tw.Flush()
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the ranking of a stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")

		store, err := storage.New(settings.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		printSummary(cmd.OutOrStdout(), report.Summarize(top))
		return nil
	},
}

var reportsRemoveCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Delete stored reports",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.New(settings.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, id := range args {
			if err := store.Delete(id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd, reportsRemoveCmd)
	reportsListCmd.Flags().String("model-name", "", "Only list reports of this model")
	reportsShowCmd.Flags().Int("top", -1, "Number of ranked features to print (-1 for all)")
}
