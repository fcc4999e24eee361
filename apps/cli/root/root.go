package root

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/arcims/arcims-web/apps/cli/apiclient"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
)

type settings struct {
	APIURL   string        `env:"ARCIMS_API_URL" envDefault:"http://localhost:8080/api/v1"`
	Token    string        `env:"ARCIMS_TOKEN"`
	Timeout  time.Duration `env:"ARCIMS_TIMEOUT" envDefault:"30s"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"warn"`
}

var (
	api      apiclient.Options
	logLevel string
)

// rootCmd is the base command for the Arcims CLI. Subcommands (auth, onboard, activation) are attached here.
var rootCmd = &cobra.Command{
	Use:           "arcims",
	Short:         "Arcims onboarding CLI",
	Long:          "Developer utilities for the Arcims onboarding flow (dev tokens, company submission, activation tracking).",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := platformlogging.NewLogger(platformlogging.Config{
			Component: "cli",
			Level:     logLevel,
			Format:    "console",
			Output:    cmd.ErrOrStderr(),
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cmd.SetContext(platformlogging.WithLogger(cmd.Context(), logger))
		return nil
	},
}

func init() {
	// Flags fall back to the environment so scripts can export ARCIMS_TOKEN once.
	defaults, err := env.ParseAs[settings]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&api.BaseURL, "api-url", defaults.APIURL, "onboarding API base URL (ARCIMS_API_URL)")
	flags.StringVar(&api.Token, "token", defaults.Token, "bearer token for the API (ARCIMS_TOKEN)")
	flags.DurationVar(&api.Timeout, "timeout", defaults.Timeout, "per-request timeout (ARCIMS_TIMEOUT)")
	flags.StringVar(&logLevel, "log-level", defaults.LogLevel, "log level written to stderr (LOG_LEVEL)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
