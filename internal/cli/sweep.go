package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"quiz-duel-service/internal/obslog"
)

// NewSweepCmd runs a single abandonment sweep against the configured stores.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Resolve stale in-progress duels once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), cmd, *configPath)
		},
	}
}

func runSweep(ctx context.Context, cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = obslog.L().Sync() }()
	if cfg.Redis.Addr == "" {
		obslog.L().Warn("sweep_in_memory", zap.String("reason", "redis addr not configured, nothing persisted to sweep"))
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	report := rt.monitor.Sweep(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d forfeited=%d drawn=%d cancelled=%d skipped=%d failed=%d\n",
		report.Scanned, report.Forfeited, report.Drawn, report.Cancelled, report.Skipped, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("sweep: %d duels failed to resolve", report.Failed)
	}
	return nil
}
