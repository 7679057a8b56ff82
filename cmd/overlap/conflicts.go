package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func conflictsCmd() *cobra.Command {
	var unresolved, asJSON bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recorded conflicts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.Conflicts.List(unresolved)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			if len(list) == 0 {
				fmt.Println("No conflicts.")
				return nil
			}
			loc := a.Config.Location()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEVENT\tSTART\tOVERLAPS\tSTATUS")
			for _, c := range list {
				status := "open"
				if c.Resolved {
					status = string(c.Resolution.Kind)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.OriginalEvent.Title,
					c.OriginalEvent.StartTime.In(loc).Format(time.DateTime),
					strings.Join(c.ConflictingTitles(), ", "), status)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "Only show unresolved conflicts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}
