package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/certmint/certmint/internal/db"
)

func claimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Inspect claims",
	}

	var (
		databaseURL string
		limit       int
	)
	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently created claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := connect(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			claims, err := db.NewClaimStore(pool).ListRecent(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tEMAIL\tSTATUS\tEXPIRES\tTOKEN ID\tLAST ERROR")
			for _, c := range claims {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.OrderID, c.Email, c.Status, c.ExpiresAt.Format(time.RFC3339), c.TokenID, c.LastError)
			}
			return w.Flush()
		},
	}
	recent.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (default $DATABASE_URL)")
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum claims to list")
	cmd.AddCommand(recent)

	return cmd
}
