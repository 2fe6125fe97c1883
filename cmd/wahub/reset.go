package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/talkincode/wahub/internal/session"
)

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tenant>",
		Short: "Delete a tenant's stored WhatsApp credentials",
		Long: "Delete a tenant's stored WhatsApp credentials so its next start pairs again.\n" +
			"Run it only while the server is stopped; a running server resets through POST /api/sessions/:id/force-reset.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			layout := session.CredentialLayout{Root: cfg.GetAuthDir()}
			removed, err := layout.Remove(args[0])
			for _, dir := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", dir)
			}
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no credentials found for", args[0])
			}
			return nil
		},
	}
}
