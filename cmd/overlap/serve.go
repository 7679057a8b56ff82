package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/overlap/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket feed and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a, a.Logger)
			httpServer := &http.Server{
				Addr:         a.Config.Listen,
				Handler:      srv.Router(),
				ReadTimeout:  5 * time.Second,
				WriteTimeout: a.Config.Budget() + 10*time.Second,
				IdleTimeout:  120 * time.Second,
			}

			if a.Reminder != nil {
				a.Reminder.Start()
				defer a.Reminder.Stop()
			}
			if err := a.Backup.Start(a.Config.Backup.Schedule, a.Config.Location()); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.Logger.Info("overlap listening", "addr", a.Config.Listen, "version", version)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.Logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}
