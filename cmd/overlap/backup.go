package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/overlap/internal/app"
	"github.com/dukerupert/overlap/internal/backup"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage encrypted database snapshots in S3-compatible storage",
	}
	cmd.AddCommand(backupRunCmd(), backupListCmd(), backupRestoreCmd())
	return cmd
}

func backupRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Take and upload a snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Backup.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %s (%d bytes)\n", snap.Key, snap.Size)
			return nil
		},
	}
}

func backupListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := offlineManager()
			if err != nil {
				return err
			}
			snaps, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snaps)
			}
			if len(snaps) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tCREATED\tSIZE")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Key, s.CreatedAt.Format(time.DateTime), s.Size)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func backupRestoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <key>",
		Short: "Replace the local database with a snapshot",
		Long: `Downloads and decrypts the snapshot, checks its integrity and swaps it in
for the configured database. Stop the server first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("restore overwrites the database; pass --force to confirm")
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := app.RequireOffline(cmd.Context(), cfg); err != nil {
				return err
			}
			m := backup.NewManager(app.BackupConfig(cfg), nil, logger.With("component", "backup"))
			if err := m.Restore(cmd.Context(), args[0], cfg.DBPath); err != nil {
				return err
			}
			fmt.Printf("Restored %s into %s\n", args[0], cfg.DBPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite the local database")
	return cmd
}

// offlineManager builds a manager that talks to storage without opening the
// database.
func offlineManager() (*backup.Manager, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	m := backup.NewManager(app.BackupConfig(cfg), nil, logger.With("component", "backup"))
	if !m.Enabled() {
		return nil, backup.ErrDisabled
	}
	return m, nil
}
