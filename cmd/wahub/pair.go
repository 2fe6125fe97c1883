package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/talkincode/wahub/internal/session"
	"github.com/talkincode/wahub/internal/whatsapp"
	"go.uber.org/zap"
)

func newPairCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "pair <tenant>",
		Short: "Link a tenant to a phone from the terminal",
		Long: "Link a tenant to a phone by scanning the QR code printed in the terminal.\n" +
			"The credentials are stored where the server looks for them; run it while the server is stopped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.InitDirs(); err != nil {
				return err
			}
			factory := whatsapp.NewFactory(whatsapp.Options{
				Layout:     session.CredentialLayout{Root: cfg.GetAuthDir()},
				DeviceName: cfg.Whatsapp.DeviceName,
				PrintQR:    true,
				QRWriter:   cmd.OutOrStdout(),
				Logger:     zap.NewNop(),
			})
			adapter, err := factory.New(args[0])
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := adapter.Initialize(ctx); err != nil {
				return err
			}
			return awaitPairing(ctx, cmd, adapter.Events())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long, 0 waits forever")
	return cmd
}

// awaitPairing reports pairing progress until the account is usable or
// pairing fails.
func awaitPairing(ctx context.Context, cmd *cobra.Command, events <-chan session.Event) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case session.EventAuthArtifact:
				fmt.Fprintln(out, "scan the QR code above with WhatsApp > Linked devices")
			case session.EventAuthenticated:
				fmt.Fprintln(out, "paired, waiting for the connection")
			case session.EventReady:
				fmt.Fprintln(out, "logged in")
				return nil
			case session.EventAuthFailure:
				return errors.Errorf("pairing failed: %s", ev.Detail)
			case session.EventDisconnected:
				return errors.Errorf("disconnected: %s", ev.Detail)
			}
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "pairing aborted")
		}
	}
}
