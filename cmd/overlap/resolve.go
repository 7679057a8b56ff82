package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dukerupert/overlap/internal/conflict"
	"github.com/dukerupert/overlap/internal/model"
)

func resolveCmd() *cobra.Command {
	var keepBoth, del, force bool
	var moveTo string

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict by keeping both, moving or deleting the new event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conflict id: %w", err)
			}

			a, err := openOfflineApp(cmd.Context(), force)
			if err != nil {
				return err
			}
			defer a.Close()

			c, ok := a.Conflicts.Get(id)
			if !ok {
				return conflict.ErrConflictNotFound
			}

			var res model.Resolution
			switch {
			case keepBoth:
				res = model.KeepBoth()
			case del:
				res = model.DeleteEvent(c.OriginalEvent)
			default:
				start, err := time.Parse(time.RFC3339, moveTo)
				if err != nil {
					return fmt.Errorf("--move must be RFC 3339: %w", err)
				}
				res = model.MoveEvent(c.OriginalEvent, start)
			}

			if err := a.Resolver.Resolve(cmd.Context(), c, res); err != nil {
				var rerr *conflict.ResolutionError
				if errors.As(err, &rerr) {
					return fmt.Errorf("%s (%w)", rerr.UserMessage(), err)
				}
				return err
			}
			fmt.Printf("Conflict %s resolved: %s\n", id, res.Kind)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepBoth, "keep-both", false, "Keep both events")
	cmd.Flags().BoolVar(&del, "delete", false, "Delete the new event")
	cmd.Flags().StringVar(&moveTo, "move", "", "Move the new event to this start time (RFC 3339)")
	cmd.Flags().BoolVar(&force, "force", false, "Run even if a server is answering on the listen address")
	cmd.MarkFlagsMutuallyExclusive("keep-both", "delete", "move")
	cmd.MarkFlagsOneRequired("keep-both", "delete", "move")

	return cmd
}
