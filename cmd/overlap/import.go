package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/overlap/internal/importer"
)

func importCmd() *cobra.Command {
	var (
		calendar string
		horizon  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Load events from an iCalendar file into a calendar",
		Long: `Imports every VEVENT in the file. Events are keyed by UID, so re-importing
updates them in place. Recurring events are expanded into one event per
occurrence up to --horizon past their first start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Importer.WithHorizon(horizon).Import(cmd.Context(), f, calendar)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d events into %q (%d skipped, %d recurring series)\n",
				res.Imported, calendar, res.Skipped, res.Recurring)
			return nil
		},
	}

	cmd.Flags().StringVar(&calendar, "calendar", "", "Calendar to import into")
	cmd.Flags().DurationVar(&horizon, "horizon", importer.DefaultHorizon, "How far to expand recurring events")
	cmd.MarkFlagRequired("calendar")

	return cmd
}
