package auth

import "github.com/spf13/cobra"

// Command groups authentication helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers",
	}
	cmd.AddCommand(devTokenCommand())
	return cmd
}
