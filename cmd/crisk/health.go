package main

import (
	"github.com/spf13/cobra"

	"github.com/rohankatakam/crisk-verify/internal/dlq"
	"github.com/rohankatakam/crisk-verify/internal/orchestrator"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report orchestrator, cache and archive health",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

type healthReport struct {
	orchestrator.SystemHealth `yaml:",inline"`
	Archive                   *dlq.Stats `yaml:"archive,omitempty" json:"archive,omitempty"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(ctx)

	health, err := a.orch.GetSystemHealth(ctx)
	if err != nil {
		return err
	}

	report := healthReport{SystemHealth: *health}
	if a.archive != nil {
		stats, err := a.archive.Stats(ctx)
		if err != nil {
			return err
		}
		report.Archive = stats
	}
	return render(cmd.OutOrStdout(), report)
}
