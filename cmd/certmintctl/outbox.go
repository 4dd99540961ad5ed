package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/certmint/certmint/app"
)

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drive the email outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dispatch",
		Short: "Run a single outbox delivery pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New()
			if err != nil {
				return err
			}
			defer application.Close()

			stats, err := application.Dispatcher.DispatchOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	})

	return cmd
}
