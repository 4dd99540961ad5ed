package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certmint/certmint/internal/wallet"
)

func walletCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Generate a custodial wallet and print its secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.NewIssuer().Generate()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]string{
					"address":        w.Address,
					"privateKey":     w.PrivateKey,
					"mnemonic":       w.Mnemonic,
					"derivationPath": w.DerivationPath,
				})
			}
			fmt.Fprintf(out, "address:     %s\n", w.Address)
			fmt.Fprintf(out, "private key: %s\n", w.PrivateKey)
			fmt.Fprintf(out, "mnemonic:    %s\n", w.Mnemonic)
			fmt.Fprintf(out, "path:        %s\n", w.DerivationPath)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}
