package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand, which executes one full ETL pass.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the ETL job once",
		Long: `Fetches the source page, extracts and converts the banks table, writes the
CSV file and the database table, then prints the report queries to stdout.
Every progress marker is appended to the progress log.`,
		Args: cobra.NoArgs,
		RunE: runETLCommand,
	}
}

func runETLCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()

	p, err := appInstance.NewPipeline(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	summary, err := p.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run etl: %w", err)
	}

	appInstance.GetLogger().Info("run command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("records", summary.Records),
	)
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
