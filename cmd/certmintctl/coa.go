package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/certmint/certmint/internal/certificate"
)

func coaCmd() *cobra.Command {
	var (
		fields     certificate.Fields
		baseURL    string
		templateID string
		layoutPath string
	)

	cmd := &cobra.Command{
		Use:   "coa",
		Short: "Print a certificate of authenticity image URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = os.Getenv("COA_BASE_URL")
			}
			if baseURL == "" {
				return fmt.Errorf("--base-url or COA_BASE_URL is required")
			}
			if templateID == "" {
				templateID = os.Getenv("COA_TEMPLATE_ID")
			}
			if layoutPath == "" {
				layoutPath = os.Getenv("COA_LAYOUT_PATH")
			}
			if fields.ProductName == "" {
				return fmt.Errorf("--product is required")
			}

			layout, err := certificate.LoadLayout(layoutPath)
			if err != nil {
				return err
			}
			if fields.CertificateID == "" {
				fields.CertificateID = certificate.NewAuthenticityID()
			}
			fields.IssuedAt = time.Now().UTC()

			renderer := certificate.NewRenderer(baseURL, templateID, layout)
			fmt.Fprintf(cmd.OutOrStdout(), "id:  %s\nurl: %s\n", fields.CertificateID, renderer.BuildURL(fields))
			return nil
		},
	}
	cmd.Flags().StringVar(&fields.ProductName, "product", "", "Product name")
	cmd.Flags().StringVar(&fields.SKU, "sku", "", "Product SKU")
	cmd.Flags().StringVar(&fields.OrderNumber, "order", "", "Order number")
	cmd.Flags().StringVar(&fields.Owner, "owner", "", "Owner name")
	cmd.Flags().StringVar(&fields.CertificateID, "id", "", "Certificate id (generated when empty)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Image CDN upload URL (default $COA_BASE_URL)")
	cmd.Flags().StringVar(&templateID, "template", "", "Template image id (default $COA_TEMPLATE_ID)")
	cmd.Flags().StringVar(&layoutPath, "layout", "", "YAML overlay layout (default $COA_LAYOUT_PATH)")

	return cmd
}
