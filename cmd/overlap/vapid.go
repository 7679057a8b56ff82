package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/overlap/internal/config"
	"github.com/dukerupert/overlap/internal/middleware"
	"github.com/dukerupert/overlap/internal/push"
)

func vapidCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair for web push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			if !write {
				fmt.Printf("vapid_public_key: %s\nvapid_private_key: %s\n", pub, priv)
				return nil
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Push.VAPIDPublicKey = pub
			cfg.Push.VAPIDPrivateKey = priv
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote VAPID keys to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Store the keys in the config file")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <secret>",
		Short: "Print the bcrypt hash to use as api_token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
