package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/overlap/internal/hint"
)

func hintCmd() *cobra.Command {
	var uid, title, start, end, calendar string
	var force bool

	cmd := &cobra.Command{
		Use:   "hint",
		Short: "Run the conflict check for a newly created event",
		Long: `Matches the described event in the local store and records a conflict if it
overlaps other events. Times are RFC 3339 with an explicit offset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openOfflineApp(cmd.Context(), force)
			if err != nil {
				return err
			}
			defer a.Close()

			// Unset flags stay absent so the parser reports them missing.
			raw := make(map[string]string)
			for flag, field := range map[string]string{
				"uid":      hint.FieldUID,
				"title":    hint.FieldTitle,
				"start":    hint.FieldStart,
				"end":      hint.FieldEnd,
				"calendar": hint.FieldCalendar,
			} {
				if cmd.Flags().Changed(flag) {
					raw[field], _ = cmd.Flags().GetString(flag)
				}
			}

			out := a.Coordinator.HandleHint(cmd.Context(), raw)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return out.Err
		},
	}

	cmd.Flags().StringVar(&uid, "uid", "", "External id of the event")
	cmd.Flags().StringVar(&title, "title", "", "Event title")
	cmd.Flags().StringVar(&start, "start", "", "Event start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "Event end (RFC 3339)")
	cmd.Flags().StringVar(&calendar, "calendar", "", "Calendar name hint")
	cmd.Flags().BoolVar(&force, "force", false, "Run even if a server is answering on the listen address")

	return cmd
}
