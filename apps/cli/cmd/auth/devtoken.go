package auth

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcims/arcims-web/platform/go/auth/devtoken"
)

func devTokenCommand() *cobra.Command {
	var params devtoken.Params

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Generate an unsigned Clerk-compatible JWT for AUTH_PROVIDER=dev",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := devtoken.BuildUnsignedClerkToken(params, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.UserID, "user-id", "user_dev", "sub claim; must match the tenant's Clerk user id")
	cmd.Flags().StringVar(&params.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&params.SessionID, "session-id", "", "sid claim; defaults to sess_dev")
	cmd.Flags().StringVar(&params.Issuer, "issuer", "", "override iss; defaults to "+devtoken.DefaultIssuer)
	cmd.Flags().StringVar(&params.AuthorizedParty, "azp", "", "azp claim (frontend origin)")
	cmd.Flags().DurationVar(&params.ExpiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")

	return cmd
}
