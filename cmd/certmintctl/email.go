package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certmint/certmint/app"
	"github.com/certmint/certmint/internal/cache"
	"github.com/certmint/certmint/internal/config"
)

func testEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-email [to]",
		Short: "Send a diagnostic email through the configured provider",
		Long: `Send a diagnostic email through the configured provider.

The recipient defaults to FROM_EMAIL. For the graph provider the client
credentials token is fetched first so authentication failures are reported
separately from delivery failures.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokenCache, err := cache.NewMemoryProvider()
			if err != nil {
				return err
			}
			defer tokenCache.Close()

			sender, provider, err := app.NewEmailSender(cfg, tokenCache, app.NewLogger(cfg))
			if err != nil {
				return err
			}

			to := cfg.FromEmail
			if len(args) == 1 {
				to = args[0]
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider: %s\n", provider.Name())
			if err := provider.ValidateAPIKey(cmd.Context()); err != nil {
				return fmt.Errorf("provider credentials rejected: %w", err)
			}
			fmt.Fprintln(out, "credentials: ok")

			if err := sender.SendTestEmail(cmd.Context(), to); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
			fmt.Fprintf(out, "sent test email to %s\n", to)
			return nil
		},
	}
}
