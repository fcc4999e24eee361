package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arcims/arcims-web/apps/cli/apiclient"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
)

// ErrActivationFailed is returned by wait when the connector ended in the failed state.
var ErrActivationFailed = errors.New("activation failed")

// Command groups activation helpers.
func Command(opts *apiclient.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activation",
		Short: "Follow connector activation",
	}
	cmd.AddCommand(waitCommand(opts))
	cmd.AddCommand(outcomeCommand(opts))
	return cmd
}

func waitCommand(opts *apiclient.Options) *cobra.Command {
	var (
		maxWait    time.Duration
		reconnects uint64
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Stream activation progress until the connector is connected or failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if maxWait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, maxWait)
				defer cancel()
			}
			logger := platformlogging.OrNop(ctx)

			client, err := apiclient.New(*opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			final, err := client.Watch(ctx, apiclient.WatchOptions{Reconnects: reconnects}, func(e apiclient.Event) {
				logger.Debug("activation event", zap.String("id", e.ID), zap.String("event", e.Name))
				fmt.Fprintf(out, "%s\t%s\t%s\n", e.Snapshot.State, e.Name, e.Snapshot.Message)
			})
			if err != nil {
				return fmt.Errorf("watch activation: %w", err)
			}
			if final.State == "failed" {
				return fmt.Errorf("%w: %s", ErrActivationFailed, final.Reason)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxWait, "max-wait", 10*time.Minute, "give up after this long; zero waits indefinitely")
	cmd.Flags().Uint64Var(&reconnects, "reconnects", 5, "how often a dropped stream is reopened")

	return cmd
}

func outcomeCommand(opts *apiclient.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "outcome",
		Short: "Print the latest recorded activation outcome as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiclient.New(*opts)
			if err != nil {
				return err
			}
			outcome, err := client.Outcome(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch outcome: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
}
