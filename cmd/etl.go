package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newETLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "etl",
		Short: "Runs one ingestion pass",
		Long: `Fetches every page of solicitations from the upstream API, archives the
raw batch when an archive is configured, then clears the store and reloads it.
The run summary is printed as JSON. A failed run exits non-zero; a run that
cannot reach the upstream leaves the stored data untouched.`,
		RunE: runETLCommand,
	}
}

func runETLCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	p, err := appInstance.Pipeline()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := p.Run(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("etl run %s: %w", summary.RunID, runErr)
	}
	return nil
}
