package onboard

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arcims/arcims-web/apps/cli/apiclient"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
)

// Command submits the company name and prints the Connect Card URI.
func Command(opts *apiclient.Options) *cobra.Command {
	var (
		companyName string
		restart     bool
	)

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Submit the company step and print the Connect Card URI",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := platformlogging.OrNop(ctx)

			client, err := apiclient.New(*opts)
			if err != nil {
				return err
			}

			status, err := client.Onboarding(ctx)
			if err != nil {
				return fmt.Errorf("resolve onboarding step: %w", err)
			}
			logger.Info("onboarding step resolved", zap.String("step", status.Step), zap.String("tenant_id", status.TenantID))

			if status.Step == "done" {
				fmt.Fprintln(cmd.OutOrStdout(), "already connected")
				return nil
			}
			if status.Step == "failed" {
				if !restart {
					return errors.New("onboarding failed previously; rerun with --restart")
				}
				if status, err = client.Restart(ctx); err != nil {
					return fmt.Errorf("restart onboarding: %w", err)
				}
				logger.Info("onboarding restarted", zap.String("step", status.Step))
			}

			if companyName == "" {
				companyName = status.CompanyName
			}
			result, err := client.SubmitCompany(ctx, companyName)
			if err != nil {
				return fmt.Errorf("submit company: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.RedirectURI)
			return nil
		},
	}

	cmd.Flags().StringVar(&companyName, "company", "", "company name; defaults to the saved one")
	cmd.Flags().BoolVar(&restart, "restart", false, "reset a failed onboarding before submitting")

	return cmd
}
