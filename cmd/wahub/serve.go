package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/talkincode/wahub/internal/adminapi"
	"github.com/talkincode/wahub/internal/app"
	"github.com/talkincode/wahub/internal/webserver"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			application := app.NewApplication(cfg)
			if err := application.Init(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Whatsapp.AutoResume {
				application.ResumeSessions(ctx)
			}

			webserver.Init(application)
			adminapi.Init()
			errCh := make(chan error, 1)
			go func() {
				errCh <- webserver.Listen()
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				zap.L().Info("shutting down", zap.String("namespace", "app"))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := webserver.Shutdown(shutdownCtx); serr != nil {
				zap.L().Warn("admin server shutdown", zap.Error(serr))
			}
			application.Release(shutdownCtx)
			return err
		},
	}
}
